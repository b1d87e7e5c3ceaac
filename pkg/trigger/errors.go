package trigger

import "errors"

var (
	ErrUnsupportedTrigger = errors.New("unsupported trigger type")
	ErrInvalidConfig      = errors.New("invalid trigger config")
	ErrTenantMismatch     = errors.New("trigger belongs to another tenant")
	ErrNotMonitored       = errors.New("trigger is not monitored")
	ErrEngineStopped      = errors.New("trigger engine stopped")
	ErrSourceUnavailable  = errors.New("trigger source not configured")
	ErrTriggerInactive    = errors.New("trigger is no longer active")

	// ErrFireFailed wraps every error returned by Fire once the firing was attempted.
	ErrFireFailed = errors.New("trigger firing failed")
)

func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

func IsFireFailed(err error) bool {
	return errors.Is(err, ErrFireFailed)
}

func IsNotMonitored(err error) bool {
	return errors.Is(err, ErrNotMonitored)
}

func IsTriggerInactive(err error) bool {
	return errors.Is(err, ErrTriggerInactive)
}
