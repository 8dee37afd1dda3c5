package substrate_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/substrate"
)

func TestMemory_TTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.NewMock()
	c := substrate.NewMemory(clk)

	require.NoError(t, c.Put(ctx, "foo", []byte("bar"), substrate.WithTTL(10*time.Second)))

	// Visible before expiry
	kv, err := c.Get(ctx, "foo")
	require.NoError(t, err)
	require.NotNil(t, kv)
	assert.Equal(t, []byte("bar"), kv.Value)

	// Renewal extends the window
	clk.Add(8 * time.Second)
	require.NoError(t, c.Put(ctx, "foo", []byte("bar"), substrate.WithTTL(10*time.Second)))
	clk.Add(8 * time.Second)
	kv, err = c.Get(ctx, "foo")
	require.NoError(t, err)
	assert.NotNil(t, kv)

	// Gone after expiry
	clk.Add(2 * time.Second)
	kv, err = c.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Nil(t, kv)
}

func TestMemory_CreateUpdateDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := substrate.NewMemory(clock.NewMock())

	ok, err := c.Create(ctx, "key", []byte("v1"))
	require.NoError(t, err)
	assert.True(t, ok)

	// Second create fails
	ok, err = c.Create(ctx, "key", []byte("v2"))
	require.NoError(t, err)
	assert.False(t, ok)

	kv, err := c.Get(ctx, "key")
	require.NoError(t, err)
	require.NotNil(t, kv)

	// Update succeeds only on an unchanged revision
	ok, err = c.Update(ctx, "key", []byte("v2"), kv.ModRevision)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Update(ctx, "key", []byte("v3"), kv.ModRevision)
	require.NoError(t, err)
	assert.False(t, ok)

	// Delete if revision
	kv, err = c.Get(ctx, "key")
	require.NoError(t, err)
	ok, err = c.DeleteIfRevision(ctx, "key", kv.ModRevision-1)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.DeleteIfRevision(ctx, "key", kv.ModRevision)
	require.NoError(t, err)
	assert.True(t, ok)

	kv, err = c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Nil(t, kv)
}

func TestMemory_GetPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.NewMock()
	c := substrate.NewMemory(clk)

	require.NoError(t, c.Put(ctx, "node/a", []byte("1")))
	require.NoError(t, c.Put(ctx, "node/b", []byte("2"), substrate.WithTTL(5*time.Second)))
	require.NoError(t, c.Put(ctx, "other/c", []byte("3")))

	kvs, err := c.GetPrefix(ctx, "node/")
	require.NoError(t, err)
	assert.Len(t, kvs, 2)

	count, err := c.Count(ctx, "node/")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Expired keys are excluded
	clk.Add(6 * time.Second)
	count, err = c.Count(ctx, "node/")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemory_PubSub(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := substrate.NewMemory(clock.NewMock())

	ch1 := c.Subscribe(ctx, "party")
	ch2 := c.Subscribe(ctx, "party")
	other := c.Subscribe(ctx, "transfer")

	require.NoError(t, c.Publish(ctx, "party", []byte("hello")))

	for _, ch := range []<-chan substrate.Message{ch1, ch2} {
		select {
		case msg := <-ch:
			assert.Equal(t, "party", msg.Channel)
			assert.Equal(t, []byte("hello"), msg.Payload)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	}

	select {
	case <-other:
		t.Fatal("message delivered to a different channel")
	default:
	}
}
