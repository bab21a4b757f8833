package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/davitg0407/daypay-project/crypto"
	"github.com/davitg0407/daypay-project/models"
)

const messageColumns = `id, seq, job_id, sender_id, receiver_id, content, encryption_version, created_at`

// PostgresStore persists messages in the messages table and announces inserts on a Feed.
type PostgresStore struct {
	db     *sql.DB
	feed   Feed
	sealer crypto.Sealer
}

// NewPostgresStore wires a store over db. sealer may be nil to store plaintext.
func NewPostgresStore(db *sql.DB, feed Feed, sealer crypto.Sealer) *PostgresStore {
	return &PostgresStore{db: db, feed: feed, sealer: sealer}
}

// ListConversation implements Store.
func (s *PostgresStore) ListConversation(ctx context.Context, c models.Conversation) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE job_id=$1 AND ((sender_id=$2 AND receiver_id=$3) OR (sender_id=$3 AND receiver_id=$2))
		ORDER BY created_at ASC, seq ASC`, c.JobID, c.Local, c.Counterpart)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return s.collect(rows)
}

// ListByParticipant implements Store.
func (s *PostgresStore) ListByParticipant(ctx context.Context, participantID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultParticipantLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE sender_id=$1 OR receiver_id=$1
		ORDER BY created_at DESC, seq DESC LIMIT $2`, participantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query participant messages: %w", err)
	}
	return s.collect(rows)
}

// Get loads one message by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
	m, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrNotFound
	}
	return m, err
}

// Insert implements Store. The feed is notified after the row is committed; a publish
// failure is logged and does not fail the insert, since the message is already stored.
func (s *PostgresStore) Insert(ctx context.Context, nm models.NewMessage) (models.Message, error) {
	nm.Content = strings.TrimSpace(nm.Content)
	if err := validateNew(nm); err != nil {
		return models.Message{}, err
	}
	m := models.Message{
		ID:         uuid.NewString(),
		JobID:      nm.JobID,
		SenderID:   nm.SenderID,
		ReceiverID: nm.ReceiverID,
		Content:    nm.Content,
	}
	stored, version := m.Content, crypto.VersionPlaintext
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(m.Content, m.ID)
		if err != nil {
			return models.Message{}, fmt.Errorf("seal content: %w", err)
		}
		stored, version = sealed, crypto.VersionAESGCM
	}
	err := s.db.QueryRowContext(ctx, `INSERT INTO messages (id, job_id, sender_id, receiver_id, content, encryption_version)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING seq, created_at`,
		m.ID, m.JobID, m.SenderID, m.ReceiverID, stored, version).Scan(&m.Seq, &m.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	if s.feed != nil {
		if err := s.feed.Publish(ctx, m.JobID, m.ID); err != nil {
			slog.Warn("feed publish failed; live subscribers will miss this message",
				slog.String("component", "store"),
				slog.String("job_id", m.JobID),
				slog.String("message_id", m.ID),
				slog.Any("err", err))
		}
	}
	return m, nil
}

// Subscribe implements Store by listening for ids on the feed and loading each row.
// Ids that no longer resolve, or resolve to another job, are skipped.
func (s *PostgresStore) Subscribe(ctx context.Context, jobID string, onInsert InsertHandler, onErr ErrorHandler) (Subscription, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("postgres store: no feed configured")
	}
	lookupCtx := context.WithoutCancel(ctx)
	return s.feed.Listen(ctx, jobID, func(id string) {
		m, err := s.Get(lookupCtx, id)
		if err != nil {
			slog.Warn("feed id lookup failed",
				slog.String("component", "store"),
				slog.String("message_id", id),
				slog.Any("err", err))
			return
		}
		if m.JobID != jobID {
			return
		}
		onInsert(m)
	}, onErr)
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the feed. The *sql.DB belongs to the caller.
func (s *PostgresStore) Close() error {
	if s.feed != nil {
		return s.feed.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scan(row rowScanner) (models.Message, error) {
	var m models.Message
	var version int
	if err := row.Scan(&m.ID, &m.Seq, &m.JobID, &m.SenderID, &m.ReceiverID, &m.Content, &version, &m.CreatedAt); err != nil {
		return models.Message{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	if version == crypto.VersionAESGCM {
		if s.sealer == nil {
			return models.Message{}, fmt.Errorf("message %s is sealed but MESSAGE_ENCRYPTION_KEY not configured", m.ID)
		}
		plain, err := s.sealer.Open(m.Content, m.ID)
		if err != nil {
			return models.Message{}, fmt.Errorf("open message %s: %w", m.ID, err)
		}
		m.Content = plain
	}
	return m, nil
}

func (s *PostgresStore) collect(rows *sql.Rows) ([]models.Message, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]models.Message, 0)
	for rows.Next() {
		m, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
