package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// redisEvent is the change message published on the events channel.
type redisEvent struct {
	Source string  `json:"source"`
	Key    string  `json:"key"`
	Old    *string `json:"old"`
	New    *string `json:"new"`
}

// RedisArea stores items in Redis under a key prefix. Every client using the
// same prefix is a context on the same origin; changes are announced over
// pub/sub on "<prefix>:events".
type RedisArea struct {
	client redis.UniversalClient
	prefix string
	opts   options

	mu       sync.Mutex
	handlers handlers
	pubsub   *redis.PubSub
	wg       sync.WaitGroup
	closed   bool
}

var _ Area = (*RedisArea)(nil)

// NewRedisArea wraps client. The caller keeps ownership of the client.
func NewRedisArea(client redis.UniversalClient, prefix string, opts ...Option) *RedisArea {
	if prefix == "" {
		prefix = "folio"
	}
	return &RedisArea{client: client, prefix: prefix, opts: buildOptions(opts)}
}

func (a *RedisArea) ContextID() string { return a.opts.contextID }

func (a *RedisArea) Kind() Kind { return KindLocal }

func (a *RedisArea) itemKey(key string) string {
	return a.prefix + ":item:" + key
}

func (a *RedisArea) channel() string {
	return a.prefix + ":events"
}

func (a *RedisArea) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.opts.timeout)
}

func (a *RedisArea) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func redisErr(op, key string, err error) error {
	if strings.HasPrefix(err.Error(), "OOM ") {
		return fmt.Errorf("%s %q: %w", op, key, ErrQuotaExceeded)
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%s %q: %w", op, key, err)
	}
	return fmt.Errorf("%s %q: %w: %v", op, key, ErrUnavailable, err)
}

func (a *RedisArea) GetItem(key string) (string, bool, error) {
	if a.isClosed() {
		return "", false, ErrClosed
	}
	ctx, cancel := a.ctx()
	defer cancel()

	v, err := a.client.Get(ctx, a.itemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, redisErr("read", key, err)
	}
	return v, true, nil
}

func (a *RedisArea) SetItem(key, value string) error {
	if a.isClosed() {
		return ErrClosed
	}
	ctx, cancel := a.ctx()
	defer cancel()

	var old *string
	prev, err := a.client.SetArgs(ctx, a.itemKey(key), value, redis.SetArgs{Get: true}).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return redisErr("write", key, err)
	default:
		old = &prev
	}

	if sameValue(old, &value) {
		return nil
	}
	return a.publish(ctx, redisEvent{Source: a.opts.contextID, Key: key, Old: old, New: &value})
}

func (a *RedisArea) RemoveItem(key string) error {
	if a.isClosed() {
		return ErrClosed
	}
	ctx, cancel := a.ctx()
	defer cancel()

	prev, err := a.client.GetDel(ctx, a.itemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return redisErr("remove", key, err)
	}
	return a.publish(ctx, redisEvent{Source: a.opts.contextID, Key: key, Old: &prev})
}

func (a *RedisArea) publish(ctx context.Context, ev redisEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := a.client.Publish(ctx, a.channel(), payload).Err(); err != nil {
		// The value is stored; only the notification was lost.
		a.opts.logger.Warn("failed to publish storage event", "channel", a.channel(), "key", ev.Key, "error", err)
	}
	return nil
}

func (a *RedisArea) Len() (int, error) {
	if a.isClosed() {
		return 0, ErrClosed
	}
	ctx, cancel := a.ctx()
	defer cancel()

	n := 0
	iter := a.client.Scan(ctx, 0, a.itemKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, redisErr("count", "", err)
	}
	return n, nil
}

// Watch subscribes to the origin's events channel. The first registration
// opens the subscription.
func (a *RedisArea) Watch(fn func(Event)) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}

	if a.pubsub == nil {
		ctx, cancel := a.ctx()
		defer cancel()

		pubsub := a.client.Subscribe(ctx, a.channel())
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, redisErr("subscribe", a.channel(), err)
		}
		a.pubsub = pubsub
		a.wg.Add(1)
		go a.receive(pubsub.Channel())
		a.opts.logger.Debug("redis area subscribed", "channel", a.channel(), "context", a.opts.contextID)
	}

	id := a.handlers.add(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			if a.handlers.remove(id) {
				a.mu.Lock()
				var ps *redis.PubSub
				if a.handlers.len() == 0 {
					ps, a.pubsub = a.pubsub, nil
				}
				a.mu.Unlock()
				if ps != nil {
					ps.Close()
				}
			}
		})
	}, nil
}

func (a *RedisArea) receive(ch <-chan *redis.Message) {
	defer a.wg.Done()
	for msg := range ch {
		if ev, ok := a.decode(msg.Payload); ok {
			a.handlers.dispatch(ev)
		}
	}
}

// decode parses a published change and drops this context's own writes.
func (a *RedisArea) decode(payload string) (Event, bool) {
	var re redisEvent
	if err := json.Unmarshal([]byte(payload), &re); err != nil {
		a.opts.logger.Warn("malformed storage event", "channel", a.channel(), "payload", payload, "error", err)
		return Event{}, false
	}
	if re.Source == a.opts.contextID {
		return Event{}, false
	}
	return Event{Key: re.Key, OldValue: re.Old, NewValue: re.New, Source: re.Source}, true
}

// Close ends the subscription. The client is not closed.
func (a *RedisArea) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	ps := a.pubsub
	a.pubsub = nil
	a.handlers.clear()
	a.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
	}
	a.wg.Wait()
	return err
}
