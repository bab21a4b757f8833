package testutil

import (
	"context"
	"sync"

	"github.com/davitg0407/daypay-project/models"
	"github.com/davitg0407/daypay-project/store"
)

// FakeStore wraps a MemoryStore with failure injection and hooks for exercising
// conversation timing. Set the exported fields before handing the store out.
type FakeStore struct {
	*store.MemoryStore

	// QueryErr fails ListConversation and ListByParticipant.
	QueryErr error
	// InsertErr fails Insert.
	InsertErr error
	// SubscribeErr fails Subscribe.
	SubscribeErr error
	// BlockQuery, if set, holds ListConversation until it is closed or ctx ends.
	BlockQuery chan struct{}
	// AfterQuery runs after ListConversation has read the history and before it returns.
	AfterQuery func()

	mu       sync.Mutex
	inserts  int
	queries  int
	handlers []subscriber
}

type subscriber struct {
	jobID    string
	onInsert store.InsertHandler
	onErr    store.ErrorHandler
}

// NewFakeStore returns a FakeStore over an empty MemoryStore.
func NewFakeStore(opts ...store.MemoryOption) *FakeStore {
	return &FakeStore{MemoryStore: store.NewMemoryStore(opts...)}
}

// ListConversation applies QueryErr, BlockQuery and AfterQuery around the memory query.
func (f *FakeStore) ListConversation(ctx context.Context, c models.Conversation) ([]models.Message, error) {
	f.mu.Lock()
	f.queries++
	f.mu.Unlock()
	if f.BlockQuery != nil {
		select {
		case <-f.BlockQuery:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	msgs, err := f.MemoryStore.ListConversation(ctx, c)
	if f.AfterQuery != nil {
		f.AfterQuery()
	}
	return msgs, err
}

// ListByParticipant applies QueryErr.
func (f *FakeStore) ListByParticipant(ctx context.Context, participantID string, limit int) ([]models.Message, error) {
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	return f.MemoryStore.ListByParticipant(ctx, participantID, limit)
}

// Insert counts every call, including rejected ones, and applies InsertErr.
func (f *FakeStore) Insert(ctx context.Context, nm models.NewMessage) (models.Message, error) {
	f.mu.Lock()
	f.inserts++
	f.mu.Unlock()
	if f.InsertErr != nil {
		return models.Message{}, f.InsertErr
	}
	return f.MemoryStore.Insert(ctx, nm)
}

// Subscribe records the handlers and applies SubscribeErr.
func (f *FakeStore) Subscribe(ctx context.Context, jobID string, onInsert store.InsertHandler, onErr store.ErrorHandler) (store.Subscription, error) {
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	sub, err := f.MemoryStore.Subscribe(ctx, jobID, onInsert, onErr)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.handlers = append(f.handlers, subscriber{jobID: jobID, onInsert: onInsert, onErr: onErr})
	f.mu.Unlock()
	return sub, nil
}

// DeliverRaw hands msg to every handler ever subscribed for msg.JobID, including
// ones whose subscription has been closed. It simulates a feed delivering late or
// delivering rows the store never held.
func (f *FakeStore) DeliverRaw(msg models.Message) {
	for _, h := range f.snapshot() {
		if h.jobID == msg.JobID {
			h.onInsert(msg)
		}
	}
}

// FailSubscriptions reports err to every recorded error handler for jobID.
func (f *FakeStore) FailSubscriptions(jobID string, err error) {
	for _, h := range f.snapshot() {
		if h.jobID == jobID && h.onErr != nil {
			h.onErr(err)
		}
	}
}

// Inserts returns the number of Insert calls.
func (f *FakeStore) Inserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

// Queries returns the number of ListConversation calls.
func (f *FakeStore) Queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (f *FakeStore) snapshot() []subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]subscriber, len(f.handlers))
	copy(out, f.handlers)
	return out
}
