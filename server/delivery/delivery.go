// Package delivery hands messages completed by a submission session to a
// sink: the log, an upstream SMTP relay, S3 object storage or a local
// SQLite spool.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/migadu/submitd/config"
	"github.com/migadu/submitd/pkg/metrics"
	"github.com/migadu/submitd/server/submission"
)

// Sink is a submission.Handler with a name and resources to release.
type Sink interface {
	submission.Handler
	Name() string
	Close() error
}

// New builds the sink selected by cfg.Type, wrapped with delivery metrics.
// hostname is used where the sink needs to name this server, e.g. in the
// relay greeting.
func New(ctx context.Context, cfg config.DeliveryConfig, hostname string) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch cfg.Type {
	case "", config.DeliveryLog:
		sink = NewLogSink()
	case config.DeliveryRelay:
		sink, err = NewRelaySink(cfg.Relay, hostname)
	case config.DeliveryS3:
		sink, err = NewS3Sink(ctx, cfg.S3)
	case config.DeliverySpool:
		sink, err = NewSpoolSink(ctx, cfg.Spool.Path)
	default:
		return nil, fmt.Errorf("unknown delivery type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return &measuredSink{Sink: sink}, nil
}

// measuredSink records attempts and duration for every handoff.
type measuredSink struct {
	Sink
}

func (m *measuredSink) HandleMessage(ctx context.Context, msg *submission.Message) error {
	start := time.Now()
	err := m.Sink.HandleMessage(ctx, msg)
	metrics.DeliveryDuration.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil {
		result = "failure"
		if IsPermanentError(err) {
			result = "permanent_failure"
		}
	}
	metrics.DeliveryAttempts.WithLabelValues(m.Name(), result).Inc()
	return err
}
