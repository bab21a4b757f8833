package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisFeed carries message ids over Redis pub/sub. go-redis re-dials a dropped
// PubSub connection on its own; a listener only reports failure when its message
// channel is closed underneath it.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed connects to redisURL and verifies the connection.
func NewRedisFeed(ctx context.Context, redisURL string) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisFeed{client: client}, nil
}

// Publish implements Feed.
func (f *RedisFeed) Publish(ctx context.Context, jobID, messageID string) error {
	return f.client.Publish(ctx, channelName(jobID), messageID).Err()
}

// Listen implements Feed. It returns once Redis has confirmed the subscription.
func (f *RedisFeed) Listen(ctx context.Context, jobID string, onID func(string), onErr ErrorHandler) (Subscription, error) {
	channel := channelName(jobID)
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ps := f.client.Subscribe(lctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	l := &redisListener{ps: ps, cancel: cancel, done: make(chan struct{})}
	msgs := ps.Channel()
	go func() {
		defer close(l.done)
		for {
			select {
			case <-lctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					if lctx.Err() == nil && onErr != nil {
						onErr(fmt.Errorf("redis feed %s: subscription channel closed", channel))
					}
					return
				}
				onID(msg.Payload)
			}
		}
	}()
	return l, nil
}

// Ping checks the Redis connection.
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close implements Feed.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}

type redisListener struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (l *redisListener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.ps.Close()
		<-l.done
	})
	return err
}
