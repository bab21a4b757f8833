package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/davitg0407/daypay-project/config"
	"github.com/davitg0407/daypay-project/crypto"
	"github.com/davitg0407/daypay-project/db"
)

// Open builds the store selected by cfg. For Postgres it connects, brings the schema
// up to date and attaches the configured feed; closing the returned store also
// closes the connection pool.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		slog.Info("using in-memory message store", slog.String("component", "store"))
		return NewMemoryStore(), nil
	case config.BackendPostgres, "":
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	var sealer crypto.Sealer
	if cfg.MessageEncryptionKey != "" {
		s, err := crypto.NewAESSealer(cfg.MessageEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("message encryption key: %w", err)
		}
		sealer = s
	} else {
		slog.Warn("MESSAGE_ENCRYPTION_KEY not set; message content is stored in plaintext", slog.String("component", "store"))
	}

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Prepare(ctx, database, cfg.MigrationsSource); err != nil {
		_ = database.Close()
		return nil, err
	}

	var feed Feed
	switch cfg.FeedBackend {
	case config.BackendRedis:
		rf, err := NewRedisFeed(ctx, cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		feed = rf
	default:
		policy := DefaultReconnectPolicy()
		policy.MaxElapsed = cfg.FeedReconnectMaxElapsed
		feed = NewPGNotifyFeed(database, cfg.DBDsn, policy)
	}
	slog.Info("using postgres message store",
		slog.String("component", "store"),
		slog.String("feed", cfg.FeedBackend),
		slog.Bool("sealed", sealer != nil))
	return &ownedPostgres{PostgresStore: NewPostgresStore(database, feed, sealer), db: database}, nil
}

// ownedPostgres is a PostgresStore that owns its connection pool.
type ownedPostgres struct {
	*PostgresStore
	db *sql.DB
}

func (o *ownedPostgres) Close() error {
	return errors.Join(o.PostgresStore.Close(), o.db.Close())
}
