package notify

import (
	"context"
	"strings"

	"github.com/smallbiznis/schoolledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.notify",
	fx.Provide(NewFromConfig),
	fx.Provide(func(lc fx.Lifecycle, notifier Notifier, log *zap.Logger) *Dispatcher {
		d := NewDispatcher(notifier, log)
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return d.Wait(ctx) },
		})
		return d
	}),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Notifier {
	if url := strings.TrimSpace(cfg.Notify.SlackWebhookURL); url != "" {
		return NewSlackNotifier(url, nil)
	}
	return NewLogNotifier(log)
}
