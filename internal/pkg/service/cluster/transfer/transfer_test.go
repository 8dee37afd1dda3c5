package transfer_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/log"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/model"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/registry"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/schema"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/session"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/substrate"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/transfer"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/common/servicectx"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/validator"
)

type testDeps struct {
	clock       *clock.Mock
	client      substrate.Client
	schema      *schema.Schema
	cfg         cluster.Config
	sessions    *session.LocalRegistry
	registry    *registry.Registry
	coordinator *transfer.Coordinator
	flushErr    error
	flushed     []string
	lock        sync.Mutex
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	cfg := cluster.NewConfig()
	cfg.ServerID = "node-a"
	cfg.Group = "survival"
	cfg.Address = "10.0.0.1"
	cfg.Port = 19132

	client := substrate.NewMemory(clk)
	sch := schema.New(validator.New())
	sessions := session.NewLocalRegistry("node-a", clk)

	proc := servicectx.NewForTest(t)
	reg, err := registry.New(proc, log.NewNopLogger(), clk, client, sch, cfg, sessions)
	require.NoError(t, err)

	d := &testDeps{clock: clk, client: client, schema: sch, cfg: cfg, sessions: sessions, registry: reg}
	flusher := transfer.FlusherFunc(func(_ context.Context, playerID string) error {
		d.lock.Lock()
		defer d.lock.Unlock()
		if d.flushErr != nil {
			return d.flushErr
		}
		d.flushed = append(d.flushed, playerID)
		return nil
	})
	d.coordinator = transfer.NewCoordinator(log.NewNopLogger(), clk, client, sch, cfg, reg, sessions, flusher)
	return d
}

func (d *testDeps) addTarget(t *testing.T, serverID string, current, max int) {
	t.Helper()
	record := model.NodeRecord{
		ServerID:        serverID,
		ProcessID:       "proc-" + serverID,
		Group:           "survival",
		Address:         "10.0.0.2",
		Port:            19132,
		MaxPlayers:      max,
		CurrentPlayers:  current,
		LastHeartbeatAt: d.clock.Now(),
	}
	err := d.schema.Nodes().ByID(serverID).Put(context.Background(), d.client, record, substrate.WithTTL(d.cfg.HeartbeatTTL))
	require.NoError(t, err)
}

func TestCoordinator_RoutePlayer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	d.sessions.Add("steve", "Steve")
	d.addTarget(t, "node-b", 10, 100)

	outcome, err := d.coordinator.RoutePlayer(ctx, "steve", "node-b", "dash")
	require.NoError(t, err)
	assert.Equal(t, transfer.Started, outcome.Status)
	assert.Equal(t, []string{"steve"}, d.flushed)

	// The intent marks the player as not reliably routable.
	transferring, err := d.coordinator.IsTransferring(ctx, "steve")
	require.NoError(t, err)
	assert.True(t, transferring)

	// Confirmed arrival clears the intent.
	require.NoError(t, d.coordinator.Confirm(ctx, "steve", "node-b"))
	transferring, err = d.coordinator.IsTransferring(ctx, "steve")
	require.NoError(t, err)
	assert.False(t, transferring)
}

func TestCoordinator_RejectsOfflineTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	d.sessions.Add("steve", "Steve")

	// The target never appeared in the registry, no intent is created.
	outcome, err := d.coordinator.RoutePlayer(ctx, "steve", "node-b", "dash")
	require.NoError(t, err)
	assert.Equal(t, transfer.Rejected, outcome.Status)
	assert.Equal(t, "target node is not online", outcome.Reason)

	transferring, err := d.coordinator.IsTransferring(ctx, "steve")
	require.NoError(t, err)
	assert.False(t, transferring)
}

func TestCoordinator_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)

	// No live session on this node
	outcome, err := d.coordinator.RoutePlayer(ctx, "ghost", "node-b", "dash")
	require.NoError(t, err)
	assert.Equal(t, transfer.Rejected, outcome.Status)

	// Full target
	d.sessions.Add("steve", "Steve")
	d.addTarget(t, "node-b", 100, 100)
	outcome, err = d.coordinator.RoutePlayer(ctx, "steve", "node-b", "dash")
	require.NoError(t, err)
	assert.Equal(t, transfer.Rejected, outcome.Status)
	assert.Equal(t, "target node is full", outcome.Reason)

	// Transfer to the node the player is already on
	outcome, err = d.coordinator.RoutePlayer(ctx, "steve", "node-a", "dash")
	require.NoError(t, err)
	assert.Equal(t, transfer.Rejected, outcome.Status)
}

func TestCoordinator_AtMostOneTransfer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	d.sessions.Add("steve", "Steve")
	d.addTarget(t, "node-b", 10, 100)
	d.addTarget(t, "node-c", 10, 100)

	outcome, err := d.coordinator.RoutePlayer(ctx, "steve", "node-b", "dash")
	require.NoError(t, err)
	require.Equal(t, transfer.Started, outcome.Status)

	// A second route while the intent is alive loses.
	_, err = d.coordinator.RoutePlayer(ctx, "steve", "node-c", "dash")
	assert.True(t, errors.Is(err, transfer.ErrAlreadyTransferring))
}

// An unconfirmed handoff expires with the intent TTL and resolves as a
// failed transfer, the player stays on the source and can be routed again.
func TestCoordinator_IntentExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	d.sessions.Add("steve", "Steve")
	d.addTarget(t, "node-b", 10, 100)

	outcome, err := d.coordinator.RoutePlayer(ctx, "steve", "node-b", "dash")
	require.NoError(t, err)
	require.Equal(t, transfer.Started, outcome.Status)

	d.clock.Add(d.cfg.TransferTTL + time.Second)

	transferring, err := d.coordinator.IsTransferring(ctx, "steve")
	require.NoError(t, err)
	assert.False(t, transferring)

	// Confirmation after the expiry fails, the transfer already resolved.
	assert.Error(t, d.coordinator.Confirm(ctx, "steve", "node-b"))

	// The player is routable again.
	d.addTarget(t, "node-b", 10, 100) // renew the target heartbeat too
	outcome, err = d.coordinator.RoutePlayer(ctx, "steve", "node-b", "retry")
	require.NoError(t, err)
	assert.Equal(t, transfer.Started, outcome.Status)
}

func TestCoordinator_FlushFailureAborts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	d.sessions.Add("steve", "Steve")
	d.addTarget(t, "node-b", 10, 100)
	d.flushErr = errors.New("ledger write failed")

	outcome, err := d.coordinator.RoutePlayer(ctx, "steve", "node-b", "dash")
	require.NoError(t, err)
	assert.Equal(t, transfer.Failed, outcome.Status)

	// The aborted handoff leaves no intent behind.
	transferring, err := d.coordinator.IsTransferring(ctx, "steve")
	require.NoError(t, err)
	assert.False(t, transferring)
}

func TestCoordinator_Abort(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	d.sessions.Add("steve", "Steve")
	d.addTarget(t, "node-b", 10, 100)

	outcome, err := d.coordinator.RoutePlayer(ctx, "steve", "node-b", "dash")
	require.NoError(t, err)
	require.Equal(t, transfer.Started, outcome.Status)

	require.NoError(t, d.coordinator.Abort(ctx, "steve"))
	transferring, err := d.coordinator.IsTransferring(ctx, "steve")
	require.NoError(t, err)
	assert.False(t, transferring)
}

func TestCoordinator_NotifiesTarget(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newTestDeps(t)
	d.sessions.Add("steve", "Steve")
	d.addTarget(t, "node-b", 10, 100)

	messages := d.client.Subscribe(ctx, transfer.Channel)

	outcome, err := d.coordinator.RoutePlayer(ctx, "steve", "node-b", "dash")
	require.NoError(t, err)
	require.Equal(t, transfer.Started, outcome.Status)

	select {
	case msg := <-messages:
		assert.Contains(t, string(msg.Payload), `"targetServerId":"node-b"`)
		assert.Contains(t, string(msg.Payload), `"playerId":"steve"`)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for transfer notification")
	}
}

// The listener on the target node reacts to notifications addressed to it
// and ignores the rest.
func TestCoordinator_Listener(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDeps(t)
	d.sessions.Add("steve", "Steve")
	d.addTarget(t, "node-b", 10, 100)
	d.addTarget(t, "node-c", 10, 100)

	logger := log.NewDebugLogger()
	targetCfg := d.cfg
	targetCfg.ServerID = "node-b"
	target := transfer.NewCoordinator(logger, d.clock, d.client, d.schema, targetCfg, d.registry, d.sessions, transfer.FlusherFunc(func(context.Context, string) error {
		return nil
	}))
	target.StartListener(servicectx.NewForTest(t))

	outcome, err := d.coordinator.RoutePlayer(ctx, "steve", "node-c", "dash")
	require.NoError(t, err)
	require.Equal(t, transfer.Started, outcome.Status)
	require.NoError(t, d.coordinator.Abort(ctx, "steve"))

	outcome, err = d.coordinator.RoutePlayer(ctx, "steve", "node-b", "dash")
	require.NoError(t, err)
	require.Equal(t, transfer.Started, outcome.Status)

	assert.Eventually(t, func() bool {
		return strings.Contains(logger.InfoMessages(), `expecting player "steve" from node "node-a"`)
	}, time.Second, 10*time.Millisecond)

	// The node-c handoff was not for this node.
	assert.NotContains(t, logger.InfoMessages(), `"node-c"`)
}
