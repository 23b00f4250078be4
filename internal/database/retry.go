package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// pingWithRetry keeps pinging while the dependency boots (compose brings
// PostgreSQL and Redis up together with the server). The delay doubles each
// attempt.
func pingWithRetry(ctx context.Context, log zerolog.Logger, what string, ping func(context.Context) error) error {
	delay := connectBackoff
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		log.Warn().Err(err).
			Str("target", what).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Dependency not ready")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
