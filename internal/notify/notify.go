package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/lotopoints/backend/pkg/logger"
)

// Notification is a best-effort, post-commit message to an account. Delivery
// failures are logged and never affect the transaction that triggered them.
type Notification struct {
	AccountID uuid.UUID
	Kind      string
	Title     string
	Body      string
	Fields    map[string]any
}

// Sink delivers notifications. Implementations must not assume the caller
// retries; a returned error is informational only.
type Sink interface {
	Notify(ctx context.Context, notification Notification) error
}

type logSink struct {
	logg *logger.Logger
}

// NewLogSink returns a Sink that records notifications in the service log.
// It stands in until a real push or mail channel is wired up.
func NewLogSink(logg *logger.Logger) Sink {
	return &logSink{logg: logg}
}

func (s *logSink) Notify(ctx context.Context, notification Notification) error {
	if s.logg == nil {
		return nil
	}
	fields := map[string]any{
		"account_id": notification.AccountID.String(),
		"kind":       notification.Kind,
		"title":      notification.Title,
	}
	for key, value := range notification.Fields {
		fields[key] = value
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "notification dispatched")
	return nil
}
