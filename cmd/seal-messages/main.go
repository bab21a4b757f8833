// Package main seals plaintext message content at rest.
//
// Rows written before MESSAGE_ENCRYPTION_KEY was configured carry
// encryption_version=0. This tool rewrites each of them as an AES-256-GCM
// ciphertext bound to the row id and marks it encryption_version=1.
//
// Usage:
//
//	seal-messages [--dry-run] [--job JOB_ID]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (defaults to the local development DSN)
//	MESSAGE_ENCRYPTION_KEY: Base64-encoded 32-byte key (required)
//
// Example:
//
//	export MESSAGE_ENCRYPTION_KEY="$(openssl rand -base64 32)"
//	./seal-messages --dry-run
//	./seal-messages
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/davitg0407/daypay-project/crypto"
	"github.com/davitg0407/daypay-project/db"
)

type plaintextRow struct {
	ID      string
	JobID   string
	Content string
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Report rows that would be sealed without changing them")
	job := flag.String("job", "", "Seal messages of one job only (default: all jobs)")
	flag.Parse()

	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	key := os.Getenv("MESSAGE_ENCRYPTION_KEY")
	if key == "" {
		slog.Error("MESSAGE_ENCRYPTION_KEY environment variable is required")
		os.Exit(1)
	}
	sealer, err := crypto.NewAESSealer(key)
	if err != nil {
		slog.Error("failed to initialize sealer", slog.Any("error", err))
		os.Exit(1)
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = db.DefaultDSN
	}
	database, err := db.Connect(dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	if _, err := sealMessages(ctx, database, sealer, *dryRun, *job); err != nil {
		slog.Error("sealing failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("sealing completed successfully")
}

// sealMessages seals every plaintext row, optionally restricted to one job, and
// returns how many rows were (or in dry-run mode would be) sealed.
func sealMessages(ctx context.Context, database *sql.DB, sealer crypto.Sealer, dryRun bool, jobFilter string) (int, error) {
	query := `SELECT id, job_id, content FROM messages WHERE encryption_version = 0`
	args := []any{}
	if jobFilter != "" {
		query += " AND job_id = $1"
		args = append(args, jobFilter)
	}
	query += " ORDER BY seq"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query plaintext messages: %w", err)
	}
	var pending []plaintextRow
	for rows.Next() {
		var r plaintextRow
		if err := rows.Scan(&r.ID, &r.JobID, &r.Content); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan message row: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate message rows: %w", err)
	}

	if len(pending) == 0 {
		slog.Info("no plaintext messages found")
		return 0, nil
	}
	slog.Info("found plaintext messages", slog.Int("count", len(pending)), slog.Bool("dry_run", dryRun))

	sealed, failed := 0, 0
	for i, r := range pending {
		logger := slog.With(
			slog.String("message_id", r.ID),
			slog.String("job_id", r.JobID),
			slog.Int("index", i+1),
			slog.Int("total", len(pending)))

		if dryRun {
			logger.Debug("would seal message (dry-run)")
			sealed++
			continue
		}
		if err := sealRow(ctx, database, sealer, r); err != nil {
			logger.Error("failed to seal message", slog.Any("error", err))
			failed++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		sealed++
	}

	slog.Info("sealing summary",
		slog.Int("total", len(pending)),
		slog.Int("sealed", sealed),
		slog.Int("errors", failed),
		slog.Bool("dry_run", dryRun))
	if failed > 0 {
		return sealed, fmt.Errorf("sealing completed with %d errors", failed)
	}
	return sealed, nil
}

// sealRow rewrites one row. The version guard makes a concurrent seal a reported
// conflict rather than a double encryption.
func sealRow(ctx context.Context, database *sql.DB, sealer crypto.Sealer, r plaintextRow) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	sealed, err := sealer.Seal(r.Content, r.ID)
	if err != nil {
		return fmt.Errorf("seal content: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET content = $1, encryption_version = $2 WHERE id = $3 AND encryption_version = 0`,
		sealed, crypto.VersionAESGCM, r.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (message may have been sealed concurrently)", n)
	}
	return tx.Commit()
}
