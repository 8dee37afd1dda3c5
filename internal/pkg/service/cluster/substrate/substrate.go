// Package substrate provides the shared coordination store used by all cluster components.
//
// The Client interface is intentionally narrow: keyed reads, TTL writes,
// compare-and-swap on a key revision and a publish/subscribe channel.
// No process is the source of truth, all cross-node state lives here.
//
// Two backends are provided: etcd for production and an in-process
// memory backend for tests.
package substrate

import (
	"context"
	"time"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

// ErrUnavailable is returned when the substrate cannot be reached,
// after all retries are exhausted. Callers must fail closed.
var ErrUnavailable = errors.New("coordination substrate is unavailable")

// KV is a single key-value pair read from the substrate.
// ModRevision identifies the last write of the key, it is the token
// for compare-and-swap updates.
type KV struct {
	Key         string
	Value       []byte
	ModRevision int64
}

// Message is a single pub/sub message.
type Message struct {
	Channel string
	Payload []byte
}

type Client interface {
	// Get returns the key's value, or nil if the key is absent or expired.
	Get(ctx context.Context, key string) (*KV, error)
	// GetPrefix returns all non-expired keys under the prefix, in undefined order.
	GetPrefix(ctx context.Context, prefix string) ([]KV, error)
	// Count returns the number of non-expired keys under the prefix.
	Count(ctx context.Context, prefix string) (int64, error)
	// Put writes the key unconditionally.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) error
	// Create writes the key only if it does not exist, it returns false otherwise.
	Create(ctx context.Context, key string, value []byte, opts ...PutOption) (bool, error)
	// Update writes the key only if its revision is unchanged, it returns false otherwise.
	Update(ctx context.Context, key string, value []byte, modRevision int64, opts ...PutOption) (bool, error)
	// Delete removes the key, it returns false if the key was absent.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteIfRevision removes the key only if its revision is unchanged.
	DeleteIfRevision(ctx context.Context, key string, modRevision int64) (bool, error)
	// Publish sends the payload to all current subscribers of the channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe streams messages published to the channel until the context ends.
	Subscribe(ctx context.Context, channel string) <-chan Message
}

type putConfig struct {
	ttl time.Duration
}

type PutOption func(c *putConfig)

// WithTTL makes the written key expire if it is not renewed within the duration.
func WithTTL(ttl time.Duration) PutOption {
	return func(c *putConfig) {
		c.ttl = ttl
	}
}

func newPutConfig(opts []PutOption) putConfig {
	c := putConfig{}
	for _, o := range opts {
		o(&c)
	}
	return c
}
