package errorhandler

import (
	"context"
	"errors"
	"log/slog"
)

// Notifier is the notification transport used for failure reports and critical alerts.
type Notifier interface {
	SendEmail(ctx context.Context, recipients []string, message string) error
	SendChatMessage(ctx context.Context, recipients []string, message string) error
	SendWebhook(ctx context.Context, urls []string, message string) error
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "log_notifier")}
}

func (n *LogNotifier) SendEmail(ctx context.Context, recipients []string, message string) error {
	n.logger.InfoContext(ctx, "Sending email notification", "recipients", recipients, "message", message)

	return nil
}

func (n *LogNotifier) SendChatMessage(ctx context.Context, recipients []string, message string) error {
	n.logger.InfoContext(ctx, "Sending chat notification", "recipients", recipients, "message", message)

	return nil
}

func (n *LogNotifier) SendWebhook(ctx context.Context, urls []string, message string) error {
	n.logger.InfoContext(ctx, "Sending webhook notification", "urls", urls, "message", message)

	return nil
}

// MultiNotifier fans every notification out to all of its notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) SendEmail(ctx context.Context, recipients []string, message string) error {
	return m.each(func(n Notifier) error { return n.SendEmail(ctx, recipients, message) })
}

func (m MultiNotifier) SendChatMessage(ctx context.Context, recipients []string, message string) error {
	return m.each(func(n Notifier) error { return n.SendChatMessage(ctx, recipients, message) })
}

func (m MultiNotifier) SendWebhook(ctx context.Context, urls []string, message string) error {
	return m.each(func(n Notifier) error { return n.SendWebhook(ctx, urls, message) })
}

func (m MultiNotifier) each(send func(Notifier) error) error {
	var errs []error

	for _, notifier := range m {
		err := send(notifier)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
