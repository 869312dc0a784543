package observability

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

// InitSentry configures error reporting. A missing DSN disables it.
func InitSentry(cfg config.SentryConfig, environment string) error {
	if cfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// FlushSentry drains buffered events on shutdown.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
