package substrate

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/log"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

// RetryConfig bounds the retries of transient substrate failures.
type RetryConfig struct {
	MaxAttempts     int           `configKey:"maxAttempts" configUsage:"Maximum attempts of one substrate operation before the Unavailable failure." validate:"min=1"`
	InitialInterval time.Duration `configKey:"initialInterval" configUsage:"Initial backoff delay between substrate operation attempts." validate:"required"`
}

func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
	}
}

// WithRetry wraps a Client with bounded retries of transient failures.
// An ErrUnavailable surfaces to the caller only after all attempts are
// exhausted, other errors pass through untouched.
//
// A write whose response was lost may have applied before the retry:
// Put is idempotent and the CAS writes re-evaluate their compare, so a
// retried attempt observes the first one instead of double-applying.
func WithRetry(logger log.Logger, clk clock.Clock, client Client, cfg RetryConfig) Client {
	return &retryClient{
		logger: logger.WithComponent("substrate.retry"),
		clock:  clk,
		client: client,
		cfg:    cfg,
	}
}

type retryClient struct {
	logger log.Logger
	clock  clock.Clock
	client Client
	cfg    RetryConfig
}

func (c *retryClient) Get(ctx context.Context, key string) (kv *KV, err error) {
	err = c.retry(ctx, "get", func(ctx context.Context) error {
		kv, err = c.client.Get(ctx, key)
		return err
	})
	return kv, err
}

func (c *retryClient) GetPrefix(ctx context.Context, prefix string) (kvs []KV, err error) {
	err = c.retry(ctx, "get prefix", func(ctx context.Context) error {
		kvs, err = c.client.GetPrefix(ctx, prefix)
		return err
	})
	return kvs, err
}

func (c *retryClient) Count(ctx context.Context, prefix string) (count int64, err error) {
	err = c.retry(ctx, "count", func(ctx context.Context) error {
		count, err = c.client.Count(ctx, prefix)
		return err
	})
	return count, err
}

func (c *retryClient) Put(ctx context.Context, key string, value []byte, opts ...PutOption) error {
	return c.retry(ctx, "put", func(ctx context.Context) error {
		return c.client.Put(ctx, key, value, opts...)
	})
}

func (c *retryClient) Create(ctx context.Context, key string, value []byte, opts ...PutOption) (ok bool, err error) {
	err = c.retry(ctx, "create", func(ctx context.Context) error {
		ok, err = c.client.Create(ctx, key, value, opts...)
		return err
	})
	return ok, err
}

func (c *retryClient) Update(ctx context.Context, key string, value []byte, modRevision int64, opts ...PutOption) (ok bool, err error) {
	err = c.retry(ctx, "update", func(ctx context.Context) error {
		ok, err = c.client.Update(ctx, key, value, modRevision, opts...)
		return err
	})
	return ok, err
}

func (c *retryClient) Delete(ctx context.Context, key string) (ok bool, err error) {
	err = c.retry(ctx, "delete", func(ctx context.Context) error {
		ok, err = c.client.Delete(ctx, key)
		return err
	})
	return ok, err
}

func (c *retryClient) DeleteIfRevision(ctx context.Context, key string, modRevision int64) (ok bool, err error) {
	err = c.retry(ctx, "delete if revision", func(ctx context.Context) error {
		ok, err = c.client.DeleteIfRevision(ctx, key, modRevision)
		return err
	})
	return ok, err
}

func (c *retryClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.retry(ctx, "publish", func(ctx context.Context) error {
		return c.client.Publish(ctx, channel, payload)
	})
}

func (c *retryClient) Subscribe(ctx context.Context, channel string) <-chan Message {
	// The watch stream reconnects on its own, retries happen inside it.
	return c.client.Subscribe(ctx, channel)
}

func (c *retryClient) retry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
		if attempt >= c.cfg.MaxAttempts || ctx.Err() != nil {
			return err
		}
		c.logger.Debugf(ctx, `%s attempt %d failed, retrying: %s`, operation, attempt, err)
		select {
		case <-ctx.Done():
			return err
		case <-c.clock.After(b.NextBackOff()):
		}
	}
}
