package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes events to the service log when no webhook is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	n.log.Info("ledger event",
		zap.String("event", event.Name),
		zap.String("school_id", event.SchoolID),
		zap.Any("payload", event.Payload),
		zap.Any("metadata", event.Metadata),
	)
	return nil
}
