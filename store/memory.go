package store

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/davitg0407/daypay-project/models"
)

// MemoryStore is an in-process Store. Ids are monotonic ULIDs, creation times never
// go backwards, and inserts are fanned out to the job's subscribers synchronously
// before Insert returns, so subscribers observe commit order.
type MemoryStore struct {
	mu      sync.Mutex
	deliver sync.Mutex // held during fan-out; keeps deliveries in insert order

	messages []models.Message
	subs     map[string]map[*memorySub]struct{}
	seq      int64
	last     time.Time
	closed   bool

	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		subs:    make(map[string]map[*memorySub]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListConversation implements Store.
func (s *MemoryStore) ListConversation(ctx context.Context, c models.Conversation) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]models.Message, 0)
	for _, m := range s.messages {
		if c.Contains(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// ListByParticipant implements Store.
func (s *MemoryStore) ListByParticipant(ctx context.Context, participantID string, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultParticipantLimit
	}
	out := make([]models.Message, 0)
	for i := len(s.messages) - 1; i >= 0; i-- {
		if len(out) >= limit {
			break
		}
		if s.messages[i].Involves(participantID) {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, nm models.NewMessage) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	nm.Content = strings.TrimSpace(nm.Content)
	if err := validateNew(nm); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Message{}, ErrClosed
	}
	now := s.now()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	s.seq++
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		s.mu.Unlock()
		return models.Message{}, err
	}
	m := models.Message{
		ID:         id.String(),
		Seq:        s.seq,
		JobID:      nm.JobID,
		SenderID:   nm.SenderID,
		ReceiverID: nm.ReceiverID,
		Content:    nm.Content,
		CreatedAt:  now,
	}
	s.messages = append(s.messages, m)

	targets := make([]*memorySub, 0, len(s.subs[m.JobID]))
	for sub := range s.subs[m.JobID] {
		targets = append(targets, sub)
	}
	s.deliver.Lock()
	s.mu.Unlock()

	for _, sub := range targets {
		sub.onInsert(m)
	}
	s.deliver.Unlock()
	return m, nil
}

// Subscribe implements Store. The subscription lives until Close, independent of ctx.
func (s *MemoryStore) Subscribe(ctx context.Context, jobID string, onInsert InsertHandler, _ ErrorHandler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{store: s, jobID: jobID, onInsert: onInsert}
	if s.subs[jobID] == nil {
		s.subs[jobID] = make(map[*memorySub]struct{})
	}
	s.subs[jobID][sub] = struct{}{}
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions for a job.
func (s *MemoryStore) SubscriberCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[jobID])
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store. Outstanding subscriptions stop receiving events.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[string]map[*memorySub]struct{})
	return nil
}

type memorySub struct {
	store    *MemoryStore
	jobID    string
	onInsert InsertHandler
	once     sync.Once
}

func (m *memorySub) Close() error {
	m.once.Do(func() {
		m.store.mu.Lock()
		defer m.store.mu.Unlock()
		if set := m.store.subs[m.jobID]; set != nil {
			delete(set, m)
			if len(set) == 0 {
				delete(m.store.subs, m.jobID)
			}
		}
	})
	return nil
}
