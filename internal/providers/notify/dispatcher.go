package notify

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/schoolledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const defaultDispatchTimeout = 10 * time.Second

// Dispatcher delivers events in the background. Callers never wait on
// delivery and delivery failures are only logged.
type Dispatcher struct {
	notifier Notifier
	log      *zap.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		log:      log.Named("notify.dispatcher"),
		timeout:  defaultDispatchTimeout,
	}
}

// Dispatch detaches from ctx cancellation so a finished request does not
// abort delivery, but keeps its values for logging.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	if d == nil || d.notifier == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Metadata == nil {
		event.Metadata = correlation.Metadata(ctx)
	}

	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, event); err != nil {
			d.log.Warn("notification failed",
				zap.String("event", event.Name),
				zap.String("school_id", event.SchoolID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
