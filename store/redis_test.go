package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/davitg0407/daypay-project/models"
	"github.com/davitg0407/daypay-project/store"
	"github.com/davitg0407/daypay-project/testutil"
)

func TestRedisFeedPublishListen(t *testing.T) {
	url := testutil.RedisURL(t)
	ctx := context.Background()
	feed, err := store.NewRedisFeed(ctx, url)
	if err != nil {
		t.Fatalf("NewRedisFeed: %v", err)
	}
	t.Cleanup(func() { _ = feed.Close() })

	ids := make(chan string, 4)
	sub, err := feed.Listen(ctx, "job-redis", func(id string) { ids <- id }, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	if err := feed.Publish(ctx, "job-elsewhere", "nope"); err != nil {
		t.Fatal(err)
	}
	if err := feed.Publish(ctx, "job-redis", "msg-1"); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-ids:
		if id != "msg-1" {
			t.Errorf("id = %q, want msg-1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = feed.Publish(ctx, "job-redis", "msg-2")
	select {
	case id := <-ids:
		t.Errorf("delivered %q after close", id)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPostgresStoreWithRedisFeed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	url := testutil.RedisURL(t)
	ctx := context.Background()
	feed, err := store.NewRedisFeed(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewPostgresStore(db, feed, nil)
	t.Cleanup(func() { _ = st.Close() })

	got := make(chan models.Message, 1)
	sub, err := st.Subscribe(ctx, "job-mixed", func(m models.Message) { got <- m }, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	sent, err := st.Insert(ctx, models.NewMessage{JobID: "job-mixed", SenderID: "u1", ReceiverID: "u2", Content: "via redis"})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-got:
		if m.ID != sent.ID {
			t.Errorf("delivered %s, want %s", m.ID, sent.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestNewRedisFeedBadURL(t *testing.T) {
	if _, err := store.NewRedisFeed(context.Background(), "not-a-url"); err == nil {
		t.Error("expected error for invalid redis url")
	}
}
