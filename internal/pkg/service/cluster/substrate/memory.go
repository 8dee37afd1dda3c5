package substrate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// memoryClient is a deterministic in-process backend for tests.
// Expiry is driven by the injected clock, so TTL behavior can be tested
// without real waiting.
type memoryClient struct {
	clock clock.Clock

	lock        *sync.Mutex
	revision    int64
	entries     map[string]*memoryEntry
	subscribers map[string][]*memorySubscriber
}

type memoryEntry struct {
	value       []byte
	modRevision int64
	expiresAt   time.Time // zero = no expiry
}

type memorySubscriber struct {
	ctx       context.Context
	ch        chan Message
	closeOnce sync.Once
}

// closeCh closes the subscriber channel exactly once, it may be called from
// both Publish and the per-subscriber cancellation goroutine.
func (s *memorySubscriber) closeCh() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}

func NewMemory(clk clock.Clock) Client {
	return &memoryClient{
		clock:       clk,
		lock:        &sync.Mutex{},
		entries:     make(map[string]*memoryEntry),
		subscribers: make(map[string][]*memorySubscriber),
	}
}

func (c *memoryClient) Get(_ context.Context, key string) (*KV, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	entry := c.liveEntry(key)
	if entry == nil {
		return nil, nil
	}
	return &KV{Key: key, Value: cloneBytes(entry.value), ModRevision: entry.modRevision}, nil
}

func (c *memoryClient) GetPrefix(_ context.Context, prefix string) ([]KV, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	var out []KV
	for key := range c.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if entry := c.liveEntry(key); entry != nil {
			out = append(out, KV{Key: key, Value: cloneBytes(entry.value), ModRevision: entry.modRevision})
		}
	}
	return out, nil
}

func (c *memoryClient) Count(ctx context.Context, prefix string) (int64, error) {
	kvs, err := c.GetPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return int64(len(kvs)), nil
}

func (c *memoryClient) Put(_ context.Context, key string, value []byte, opts ...PutOption) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.putLocked(key, value, newPutConfig(opts))
	return nil
}

func (c *memoryClient) Create(_ context.Context, key string, value []byte, opts ...PutOption) (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.liveEntry(key) != nil {
		return false, nil
	}
	c.putLocked(key, value, newPutConfig(opts))
	return true, nil
}

func (c *memoryClient) Update(_ context.Context, key string, value []byte, modRevision int64, opts ...PutOption) (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	entry := c.liveEntry(key)
	if entry == nil || entry.modRevision != modRevision {
		return false, nil
	}
	c.putLocked(key, value, newPutConfig(opts))
	return true, nil
}

func (c *memoryClient) Delete(_ context.Context, key string) (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	existed := c.liveEntry(key) != nil
	delete(c.entries, key)
	return existed, nil
}

func (c *memoryClient) DeleteIfRevision(_ context.Context, key string, modRevision int64) (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	entry := c.liveEntry(key)
	if entry == nil || entry.modRevision != modRevision {
		return false, nil
	}
	delete(c.entries, key)
	return true, nil
}

func (c *memoryClient) Publish(_ context.Context, channel string, payload []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	live := c.subscribers[channel][:0]
	for _, sub := range c.subscribers[channel] {
		if sub.ctx.Err() != nil {
			sub.closeCh()
			continue
		}
		live = append(live, sub)
		// Drop the message if the subscriber is not keeping up,
		// delivery is best effort, same as an expired etcd event.
		select {
		case sub.ch <- Message{Channel: channel, Payload: cloneBytes(payload)}:
		default:
		}
	}
	c.subscribers[channel] = live
	return nil
}

func (c *memoryClient) Subscribe(ctx context.Context, channel string) <-chan Message {
	c.lock.Lock()
	defer c.lock.Unlock()
	sub := &memorySubscriber{ctx: ctx, ch: make(chan Message, 64)}
	c.subscribers[channel] = append(c.subscribers[channel], sub)
	// Close the channel when the context ends, per the Client contract.
	// The lock is taken so the close cannot race a concurrent Publish send.
	go func() {
		<-ctx.Done()
		c.lock.Lock()
		defer c.lock.Unlock()
		sub.closeCh()
	}()
	return sub.ch
}

// liveEntry returns the entry if it exists and has not expired.
// Expired entries are removed lazily, on access.
func (c *memoryClient) liveEntry(key string) *memoryEntry {
	entry, found := c.entries[key]
	if !found {
		return nil
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(c.clock.Now()) {
		delete(c.entries, key)
		return nil
	}
	return entry
}

func (c *memoryClient) putLocked(key string, value []byte, cfg putConfig) {
	c.revision++
	entry := &memoryEntry{value: cloneBytes(value), modRevision: c.revision}
	if cfg.ttl > 0 {
		entry.expiresAt = c.clock.Now().Add(cfg.ttl)
	}
	c.entries[key] = entry
}

func cloneBytes(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
