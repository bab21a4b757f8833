// Package store implements the message store the chat synchronizer consumes: point
// queries by job and participant pair, inserts, and a per-job change feed of inserted
// messages.
//
// Two backends exist. MemoryStore keeps everything in process and fans inserts out
// synchronously. PostgresStore persists to the messages table and publishes inserted
// ids on a Feed (Postgres LISTEN/NOTIFY or Redis pub/sub); subscribers resolve ids back
// to rows so broker payloads stay small and sealed content never leaves the database.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/davitg0407/daypay-project/models"
)

var (
	// ErrNotFound is returned when a message id does not exist.
	ErrNotFound = errors.New("store: message not found")
	// ErrInvalidMessage is returned by Insert when a required field is blank.
	ErrInvalidMessage = errors.New("store: message requires job, sender, receiver and content")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// InsertHandler receives messages inserted for a subscribed job. Calls for one
// subscription are sequential and follow commit order. Handlers must not block and
// must not call back into the store that invoked them.
type InsertHandler func(models.Message)

// ErrorHandler receives a terminal subscription failure, at most once.
type ErrorHandler func(error)

// Subscription is a live change-feed registration. Close releases it and is idempotent.
type Subscription interface {
	Close() error
}

// DefaultParticipantLimit caps ListByParticipant when called with limit <= 0.
const DefaultParticipantLimit = 200

// Store is the message store contract.
type Store interface {
	// ListConversation returns every message of the conversation ordered by
	// created_at ascending, ties broken by insertion order.
	ListConversation(ctx context.Context, c models.Conversation) ([]models.Message, error)
	// ListByParticipant returns up to limit messages sent or received by the
	// participant, newest first. A limit <= 0 means DefaultParticipantLimit.
	ListByParticipant(ctx context.Context, participantID string, limit int) ([]models.Message, error)
	// Insert stores a message and assigns its id, sequence and creation time.
	Insert(ctx context.Context, m models.NewMessage) (models.Message, error)
	// Subscribe registers onInsert for messages inserted under jobID from now on.
	Subscribe(ctx context.Context, jobID string, onInsert InsertHandler, onErr ErrorHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Feed carries inserted message ids from writers to listeners, scoped by job.
type Feed interface {
	Publish(ctx context.Context, jobID, messageID string) error
	Listen(ctx context.Context, jobID string, onID func(messageID string), onErr ErrorHandler) (Subscription, error)
	Close() error
}

func validateNew(m models.NewMessage) error {
	if strings.TrimSpace(m.JobID) == "" || strings.TrimSpace(m.SenderID) == "" ||
		strings.TrimSpace(m.ReceiverID) == "" || strings.TrimSpace(m.Content) == "" {
		return ErrInvalidMessage
	}
	return nil
}

// maxChannelLen is the Postgres identifier limit (NAMEDATALEN-1).
const maxChannelLen = 63

// channelName returns the broker channel for a job. Long job ids are hashed so the
// name stays a valid Postgres identifier.
func channelName(jobID string) string {
	name := "chat:" + jobID
	if len(name) <= maxChannelLen {
		return name
	}
	sum := sha256.Sum256([]byte(jobID))
	return "chat:" + hex.EncodeToString(sum[:])[:40]
}
