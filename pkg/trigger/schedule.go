package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // schedules name IANA zones; hosts may ship without zoneinfo

	"github.com/robfig/cron/v3"
)

type ScheduleType string

const (
	ScheduleOnce    ScheduleType = "once"
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
	ScheduleCustom  ScheduleType = "custom"
)

var weekdays = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

// Schedule is the parsed config of a scheduled trigger.
type Schedule struct {
	Type     ScheduleType
	Interval time.Duration
	Location *time.Location
	spec     cron.Schedule
}

// onceSchedule yields a single instant.
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if o.at.After(t) {
		return o.at
	}

	return time.Time{}
}

// ParseSchedule reads schedule_type, time, days_of_week, day_of_month, date, cron and timezone.
func ParseSchedule(config map[string]any) (*Schedule, error) {
	scheduleType := ScheduleType(strings.ToLower(stringValue(config, "schedule_type")))
	if scheduleType == "" {
		if stringValue(config, "cron") != "" {
			scheduleType = ScheduleCustom
		} else {
			scheduleType = ScheduleDaily
		}
	}

	location := time.UTC

	if tz := stringValue(config, "timezone"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q: %w", ErrInvalidConfig, tz, err)
		}

		location = loc
	}

	hour, minute, err := parseTimeOfDay(stringValue(config, "time"))
	if err != nil {
		return nil, err
	}

	s := &Schedule{Type: scheduleType, Location: location}

	var expression string

	switch scheduleType {
	case ScheduleOnce:
		date := stringValue(config, "date")

		day, err := time.ParseInLocation(time.DateOnly, date, location)
		if err != nil {
			return nil, fmt.Errorf("%w: once schedule needs a date (YYYY-MM-DD): %w", ErrInvalidConfig, err)
		}

		s.Interval = time.Minute
		s.spec = onceSchedule{at: time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, location)}

		return s, nil
	case ScheduleDaily:
		s.Interval = time.Hour
		expression = fmt.Sprintf("%d %d * * *", minute, hour)
	case ScheduleWeekly:
		days, err := parseWeekdays(listValue(config, "days_of_week"))
		if err != nil {
			return nil, err
		}

		s.Interval = 24 * time.Hour
		expression = fmt.Sprintf("%d %d * * %s", minute, hour, days)
	case ScheduleMonthly:
		day := intValue(config, "day_of_month", 1)
		if day < 1 || day > 31 {
			return nil, fmt.Errorf("%w: day_of_month %d out of range", ErrInvalidConfig, day)
		}

		s.Interval = 24 * time.Hour
		expression = fmt.Sprintf("%d %d %d * *", minute, hour, day)
	case ScheduleCustom:
		expression = stringValue(config, "cron")
		if expression == "" {
			return nil, fmt.Errorf("%w: custom schedule needs a cron expression", ErrInvalidConfig)
		}

		s.Interval = time.Minute
	default:
		return nil, fmt.Errorf("%w: unknown schedule_type %q", ErrInvalidConfig, scheduleType)
	}

	if !strings.HasPrefix(expression, "CRON_TZ=") && !strings.HasPrefix(expression, "TZ=") {
		expression = "CRON_TZ=" + location.String() + " " + expression
	}

	spec, err := cron.ParseStandard(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression %q: %w", ErrInvalidConfig, expression, err)
	}

	s.spec = spec

	return s, nil
}

// Next returns the first scheduled instant after t, or the zero time when there is none.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.spec.Next(t)
}

// Due reports whether a scheduled instant lies in (lastCheck, now].
func (s *Schedule) Due(lastCheck, now time.Time) bool {
	next := s.spec.Next(lastCheck)

	return !next.IsZero() && !next.After(now)
}

func parseTimeOfDay(value string) (int, int, error) {
	if value == "" {
		return 0, 0, nil
	}

	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time must be HH:MM, got %q", ErrInvalidConfig, value)
	}

	return t.Hour(), t.Minute(), nil
}

func parseWeekdays(values []string) (string, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("%w: weekly schedule needs days_of_week", ErrInvalidConfig)
	}

	days := make([]string, 0, len(values))

	for _, value := range values {
		day, ok := weekdays[strings.ToLower(value)]
		if !ok {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > 6 {
				return "", fmt.Errorf("%w: unknown weekday %q", ErrInvalidConfig, value)
			}

			day = n
		}

		days = append(days, strconv.Itoa(day))
	}

	return strings.Join(days, ","), nil
}
