// Package models holds the chat data types shared by the store, chat and server packages.
package models

import (
	"strings"
	"time"
)

// Message is a stored chat message. ID and CreatedAt are assigned by the store.
type Message struct {
	CreatedAt  time.Time `json:"created_at"`
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	// Seq is the store-assigned insertion order used to break created_at ties.
	Seq int64 `json:"seq"`
}

// Involves reports whether participantID sent or received the message.
func (m Message) Involves(participantID string) bool {
	return m.SenderID == participantID || m.ReceiverID == participantID
}

// Before orders messages by creation time, then by store sequence.
func (m Message) Before(o Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.Seq < o.Seq
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

// NewMessage is the insert payload for a message.
type NewMessage struct {
	JobID      string `json:"job_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// Conversation identifies the bidirectional thread between two participants on one job.
// Local is the participant viewing the conversation; the key itself is unordered.
type Conversation struct {
	JobID       string `json:"job_id"`
	Local       string `json:"local_id"`
	Counterpart string `json:"counterpart_id"`
}

// Valid reports whether all identifiers are present.
func (c Conversation) Valid() bool {
	return strings.TrimSpace(c.JobID) != "" &&
		strings.TrimSpace(c.Local) != "" &&
		strings.TrimSpace(c.Counterpart) != ""
}

// Contains reports whether m belongs to the conversation, in either direction.
func (c Conversation) Contains(m Message) bool {
	if m.JobID != c.JobID {
		return false
	}
	return (m.SenderID == c.Local && m.ReceiverID == c.Counterpart) ||
		(m.SenderID == c.Counterpart && m.ReceiverID == c.Local)
}

// Key returns a direction-independent identifier for the conversation.
func (c Conversation) Key() string {
	a, b := c.Local, c.Counterpart
	if b < a {
		a, b = b, a
	}
	return c.JobID + ":" + a + ":" + b
}

// ConversationSummary is one entry of a participant's inbox: the latest message of a
// conversation and the other participant in it.
type ConversationSummary struct {
	JobID         string  `json:"job_id"`
	CounterpartID string  `json:"counterpart_id"`
	Last          Message `json:"last_message"`
}
