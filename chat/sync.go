package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/davitg0407/daypay-project/models"
	"github.com/davitg0407/daypay-project/store"
	"github.com/davitg0407/daypay-project/telemetry"
)

// State is the lifecycle state of a Synchronizer.
type State int32

const (
	StateLoading State = iota
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageStore is the part of the store a Synchronizer needs.
type MessageStore interface {
	ListConversation(ctx context.Context, c models.Conversation) ([]models.Message, error)
	Insert(ctx context.Context, m models.NewMessage) (models.Message, error)
	Subscribe(ctx context.Context, jobID string, onInsert store.InsertHandler, onErr store.ErrorHandler) (store.Subscription, error)
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger; the default is slog.Default tagged with the conversation.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

// WithListener registers fn for every push accepted into the view, in view order.
// fn runs while the view is locked: it must not block or call back into the Synchronizer.
func WithListener(fn func(models.Message)) Option {
	return func(s *Synchronizer) { s.listener = fn }
}

// WithSubscriptionErrorHandler registers fn for a live subscription lost after Start.
func WithSubscriptionErrorHandler(fn func(error)) Option {
	return func(s *Synchronizer) { s.onSubErr = fn }
}

// Synchronizer presents one conversation as an ordered, live-updating view and
// sends messages into it. It is safe for concurrent use.
type Synchronizer struct {
	store    MessageStore
	conv     models.Conversation
	log      *slog.Logger
	listener func(models.Message)
	onSubErr func(error)

	mu       sync.Mutex
	state    State
	started  bool
	view     []models.Message
	seen     map[string]struct{}
	sub      store.Subscription
	fetchErr error
	subErr   error
}

// New validates the conversation and returns a Synchronizer in the Loading state.
// Call Start to fetch history and go live, and Close to release it.
func New(st MessageStore, conv models.Conversation, opts ...Option) (*Synchronizer, error) {
	if st == nil {
		return nil, errors.New("chat: nil message store")
	}
	if !conv.Valid() {
		return nil, ErrInvalidConversation
	}
	s := &Synchronizer{
		store: st,
		conv:  conv,
		state: StateLoading,
		seen:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With(
		slog.String("component", "chat"),
		slog.String("job_id", conv.JobID),
		slog.String("local_id", conv.Local),
		slog.String("counterpart_id", conv.Counterpart))
	telemetry.AddOpenConversations(1)
	return s, nil
}

// Open is New followed by Start. On error the conversation is already closed.
func Open(ctx context.Context, st MessageStore, conv models.Conversation, opts ...Option) (*Synchronizer, error) {
	s, err := New(st, conv, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Start fetches the history, moves to Live, then subscribes to the job's inserts.
//
// A failed fetch does not fail Start: the view starts empty and FetchErr reports the
// cause. A failed subscribe closes the Synchronizer and returns *SubscriptionError.
// If ctx ends during the fetch, Start closes the Synchronizer and returns ctx's error.
// Messages committed between the fetch and the subscription are not recovered.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "chat", "chat.open",
		telemetry.ConversationAttrs(s.conv.JobID, s.conv.Local, s.conv.Counterpart)...)
	defer span.End()

	var history []models.Message
	var fetchErr error
	telemetry.TimeFunc(telemetry.HistoryFetchDuration, func() {
		history, fetchErr = s.store.ListConversation(ctx, s.conv)
	})
	if ctx.Err() != nil {
		_ = s.Close()
		return ctx.Err()
	}
	if fetchErr != nil {
		history = nil
		telemetry.RecordFetchFailure()
		s.log.Warn("history fetch failed; showing empty conversation", slog.Any("err", fetchErr))
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if fetchErr != nil {
		s.fetchErr = &FetchError{Err: fetchErr}
	}
	for _, m := range history {
		s.place(m)
	}
	s.state = StateLive
	s.mu.Unlock()

	sub, err := s.store.Subscribe(ctx, s.conv.JobID, s.accept, s.lost)
	if err != nil {
		serr := &SubscriptionError{Err: err}
		telemetry.RecordSubscriptionError()
		telemetry.RecordError(span, serr)
		s.log.Error("live subscription failed", slog.Any("err", err))
		s.mu.Lock()
		s.subErr = serr
		s.mu.Unlock()
		_ = s.Close()
		return serr
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = sub.Close()
		return ErrClosed
	}
	s.sub = sub
	s.mu.Unlock()

	s.log.Debug("conversation live", slog.Int("history", len(history)))
	telemetry.SetSpanSuccess(span)
	return nil
}

// Send inserts content, trimmed, from the local participant to the counterpart.
// Whitespace-only content is rejected without touching the store. The view is not
// updated here; the message arrives through the live subscription.
func (s *Synchronizer) Send(ctx context.Context, content string) (models.Message, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if s.State() == StateClosed {
		return models.Message{}, ErrClosed
	}
	return insert(ctx, s.store, s.conv, text, s.log)
}

// Close releases the subscription and moves to Closed. Pushes delivered afterwards
// are discarded. Close is idempotent.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	telemetry.AddOpenConversations(-1)
	if sub != nil {
		if err := sub.Close(); err != nil {
			return fmt.Errorf("release subscription: %w", err)
		}
	}
	return nil
}

// Conversation returns the conversation key.
func (s *Synchronizer) Conversation() models.Conversation { return s.conv }

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the view.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.view))
	copy(out, s.view)
	return out
}

// Len returns the number of messages in the view.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.view)
}

// FetchErr returns the historical fetch failure, if any, as *FetchError.
func (s *Synchronizer) FetchErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchErr
}

// SubscriptionErr returns the subscription failure, if any, as *SubscriptionError.
func (s *Synchronizer) SubscriptionErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subErr
}

// accept is the subscription callback.
func (s *Synchronizer) accept(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLive {
		telemetry.RecordPushDiscarded(telemetry.DiscardClosed)
		return
	}
	// the subscription is job-scoped; the pair check happens here
	if !s.conv.Contains(m) {
		telemetry.RecordPushDiscarded(telemetry.DiscardFiltered)
		return
	}
	if !s.place(m) {
		telemetry.RecordPushDiscarded(telemetry.DiscardDuplicate)
		return
	}
	telemetry.RecordPushAccepted()
	if s.listener != nil {
		s.listener(m)
	}
}

func (s *Synchronizer) lost(err error) {
	serr := &SubscriptionError{Err: err}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.subErr = serr
	handler := s.onSubErr
	s.mu.Unlock()

	telemetry.RecordSubscriptionError()
	s.log.Error("live subscription lost; view no longer updates", slog.Any("err", err))
	if handler != nil {
		handler(serr)
	}
}

// place inserts m after the last message not newer than it. In-order deliveries
// append. Returns false for an id already in the view. Caller holds s.mu.
func (s *Synchronizer) place(m models.Message) bool {
	if _, dup := s.seen[m.ID]; dup {
		return false
	}
	s.seen[m.ID] = struct{}{}
	i := len(s.view)
	for i > 0 && m.Before(s.view[i-1]) {
		i--
	}
	s.view = append(s.view, models.Message{})
	copy(s.view[i+1:], s.view[i:])
	s.view[i] = m
	return true
}
