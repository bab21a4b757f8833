package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
)

// PGNotifyFeed carries message ids over Postgres LISTEN/NOTIFY. Publishing goes through
// the shared *sql.DB; every listener owns a dedicated pgx connection because a
// connection in LISTEN mode cannot be returned to a pool.
type PGNotifyFeed struct {
	db     *sql.DB
	dsn    string
	policy ReconnectPolicy
}

// NewPGNotifyFeed returns a feed publishing on db and listening through new
// connections opened from dsn.
func NewPGNotifyFeed(db *sql.DB, dsn string, policy ReconnectPolicy) *PGNotifyFeed {
	return &PGNotifyFeed{db: db, dsn: dsn, policy: policy.withDefaults()}
}

// Publish implements Feed.
func (f *PGNotifyFeed) Publish(ctx context.Context, jobID, messageID string) error {
	_, err := f.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channelName(jobID), messageID)
	return err
}

// Listen implements Feed. The listener outlives ctx (ctx only bounds the initial
// connect) and runs until Close. A dropped connection is re-established under the
// reconnect policy; notifications sent while disconnected are lost.
func (f *PGNotifyFeed) Listen(ctx context.Context, jobID string, onID func(string), onErr ErrorHandler) (Subscription, error) {
	channel := channelName(jobID)
	conn, err := f.connect(ctx, channel)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &pgListener{cancel: cancel, done: make(chan struct{})}
	go l.run(lctx, f, conn, channel, onID, onErr)
	return l, nil
}

// Close implements Feed. Listeners are closed individually by their owners.
func (f *PGNotifyFeed) Close() error { return nil }

func (f *PGNotifyFeed) connect(ctx context.Context, channel string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return nil, fmt.Errorf("listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return conn, nil
}

type pgListener struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (l *pgListener) run(ctx context.Context, f *PGNotifyFeed, conn *pgx.Conn, channel string, onID func(string), onErr ErrorHandler) {
	defer close(l.done)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()
	for {
		n, err := conn.WaitForNotification(ctx)
		if err == nil {
			onID(n.Payload)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("feed connection lost",
			slog.String("component", "feed"),
			slog.String("backend", "postgres"),
			slog.String("channel", channel),
			slog.Any("err", err))
		_ = conn.Close(context.Background())
		conn = nil

		err = f.policy.retry(ctx, "postgres", channel, func() error {
			c, cerr := f.connect(ctx, channel)
			if cerr != nil {
				return cerr
			}
			conn = c
			return nil
		})
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) && onErr != nil {
				onErr(fmt.Errorf("postgres feed %s: %w", channel, err))
			}
			return
		}
		slog.Info("feed reconnected",
			slog.String("component", "feed"),
			slog.String("backend", "postgres"),
			slog.String("channel", channel))
	}
}

// Close stops the listener and waits for its connection to be released. It must not
// be called from inside the listener's own handler.
func (l *pgListener) Close() error {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
	return nil
}
