package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/davitg0407/daypay-project/telemetry"
)

// ReconnectPolicy bounds how a feed listener re-establishes a lost connection.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed is the total budget for one outage; after it the listener reports
	// the last error and stops.
	MaxElapsed time.Duration
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsed:      2 * time.Minute,
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	d := DefaultReconnectPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = d.MaxElapsed
	}
	return p
}

// retry runs op with jittered exponential backoff until it succeeds, the budget is
// spent, ctx ends, or op fails with a fatal error.
func (p ReconnectPolicy) retry(ctx context.Context, backend, channel string, op func() error) error {
	p = p.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if ClassifyError(err) == ErrorClassFatal {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.RecordFeedReconnect(backend)
			slog.Warn("feed reconnect attempt failed",
				slog.String("component", "feed"),
				slog.String("backend", backend),
				slog.String("channel", channel),
				slog.Duration("next", next),
				slog.Any("err", err))
		}),
	)
	return err
}
