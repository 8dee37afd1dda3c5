package substrate_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/log"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/substrate"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

// flakyClient fails the first N calls of each operation with a transient
// error, then delegates to the wrapped client.
type flakyClient struct {
	substrate.Client
	failures int
	attempts int
	err      error
}

func (c *flakyClient) fail() error {
	c.attempts++
	if c.attempts <= c.failures {
		return c.err
	}
	return nil
}

func (c *flakyClient) Get(ctx context.Context, key string) (*substrate.KV, error) {
	if err := c.fail(); err != nil {
		return nil, err
	}
	return c.Client.Get(ctx, key)
}

func (c *flakyClient) Update(ctx context.Context, key string, value []byte, modRevision int64, opts ...substrate.PutOption) (bool, error) {
	if err := c.fail(); err != nil {
		return false, err
	}
	return c.Client.Update(ctx, key, value, modRevision, opts...)
}

func transientError() error {
	return errors.PrefixError(substrate.ErrUnavailable, "connection refused")
}

func retryConfig() substrate.RetryConfig {
	cfg := substrate.NewRetryConfig()
	cfg.InitialInterval = time.Millisecond
	return cfg
}

func TestRetry_RecoversFromTransientFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.New()
	inner := &flakyClient{Client: substrate.NewMemory(clk), failures: 2, err: transientError()}
	c := substrate.WithRetry(log.NewNopLogger(), clk, inner, retryConfig())

	require.NoError(t, c.Put(ctx, "key", []byte("value")))

	// Two failed attempts are absorbed, the third succeeds.
	kv, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.NotNil(t, kv)
	assert.Equal(t, []byte("value"), kv.Value)
	assert.Equal(t, 3, inner.attempts)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.New()
	inner := &flakyClient{Client: substrate.NewMemory(clk), failures: 100, err: transientError()}
	c := substrate.WithRetry(log.NewNopLogger(), clk, inner, retryConfig())

	// The typed failure surfaces only after the attempt budget.
	_, err := c.Get(ctx, "key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, substrate.ErrUnavailable))
	assert.Equal(t, substrate.NewRetryConfig().MaxAttempts, inner.attempts)
}

func TestRetry_NonTransientErrorPassesThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.New()
	inner := &flakyClient{Client: substrate.NewMemory(clk), failures: 100, err: errors.New("invalid request")}
	c := substrate.WithRetry(log.NewNopLogger(), clk, inner, retryConfig())

	_, err := c.Get(ctx, "key")
	require.Error(t, err)
	assert.False(t, errors.Is(err, substrate.ErrUnavailable))
	assert.Equal(t, 1, inner.attempts)
}

// A CAS write retried after a transient failure re-evaluates its compare,
// the decorator never turns one logical update into two.
func TestRetry_CASWriteRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.New()
	inner := &flakyClient{Client: substrate.NewMemory(clk), err: transientError()}
	c := substrate.WithRetry(log.NewNopLogger(), clk, inner, retryConfig())

	require.NoError(t, c.Put(ctx, "key", []byte("v1")))
	kv, err := c.Get(ctx, "key")
	require.NoError(t, err)

	inner.attempts = 0
	inner.failures = 1
	ok, err := c.Update(ctx, "key", []byte("v2"), kv.ModRevision)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, inner.attempts)

	// A stale revision still loses, retries do not mask the conflict.
	inner.attempts = 0
	inner.failures = 0
	ok, err = c.Update(ctx, "key", []byte("v3"), kv.ModRevision)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, inner.attempts)
}
