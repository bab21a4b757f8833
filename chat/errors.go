package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConversation is returned when a job or participant id is blank.
	ErrInvalidConversation = errors.New("chat: conversation requires job, local and counterpart ids")
	// ErrEmptyMessage is returned by Send for blank or whitespace-only content.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrClosed is returned by operations on a closed conversation.
	ErrClosed = errors.New("chat: conversation closed")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("chat: conversation already started")
)

// FetchError records a failed historical fetch. The view shows it as empty history.
type FetchError struct{ Err error }

func (e *FetchError) Error() string { return fmt.Sprintf("chat: history fetch failed: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// SendError reports a failed insert.
type SendError struct{ Err error }

func (e *SendError) Error() string { return fmt.Sprintf("chat: send failed: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// SubscriptionError reports a live subscription that could not start or was lost.
type SubscriptionError struct{ Err error }

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("chat: live subscription failed: %v", e.Err)
}
func (e *SubscriptionError) Unwrap() error { return e.Err }
