package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vincentsider/bolt.new-sub002/pkg/errorhandler"
)

// NewNotifier returns the failure notifier. Email and chat notifications go to
// the log and, when redisURL is set, to a Redis channel; webhooks are posted
// directly. The returned close func releases the Redis connection.
func NewNotifier(ctx context.Context, logger *slog.Logger, redisURL, channel string) (errorhandler.Notifier, func() error, error) {
	notifiers := errorhandler.MultiNotifier{errorhandler.NewLogNotifier(logger)}
	closer := func() error { return nil }

	if redisURL != "" {
		redisNotifier, err := errorhandler.NewRedisNotifier(ctx, logger, redisURL, channel)
		if err != nil {
			return nil, nil, err
		}

		notifiers = append(notifiers, redisNotifier)
		closer = redisNotifier.Close
	}

	client := &http.Client{Timeout: 10 * time.Second}

	return errorhandler.NewWebhookNotifier(client, notifiers), closer, nil
}
