// Package registry maintains node presence records on the substrate.
//
// Each node renews its own record with a TTL, liveness is a property of
// the key expiry alone. A crashed node disappears within one TTL window,
// a graceful shutdown removes the record immediately.
package registry

import (
	"context"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/log"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/model"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/schema"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/substrate"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/common/servicectx"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

// ErrDuplicateServerID means another live process already heartbeats under
// this serverId. Serving cluster traffic anyway would corrupt shared state,
// the process must refuse to start.
var ErrDuplicateServerID = errors.New("another live node uses the same serverId")

// PlayerCounter reports the count of sessions connected to this node.
type PlayerCounter interface {
	Count() int
}

type Registry struct {
	logger    log.Logger
	clock     clock.Clock
	client    substrate.Client
	schema    *schema.Schema
	cfg       cluster.Config
	processID string
	players   PlayerCounter
}

// New registers the node in the cluster and starts the heartbeat loop.
// It fails on a serverId collision with another live process.
func New(proc *servicectx.Process, logger log.Logger, clk clock.Clock, client substrate.Client, sch *schema.Schema, cfg cluster.Config, players PlayerCounter) (*Registry, error) {
	r := &Registry{
		logger:    logger.WithComponent("registry"),
		clock:     clk,
		client:    client,
		schema:    sch,
		cfg:       cfg,
		processID: proc.UniqueID(),
		players:   players,
	}

	if err := r.register(proc.Ctx()); err != nil {
		return nil, err
	}

	proc.Add(func(ctx context.Context, _ chan<- error) {
		r.heartbeatLoop(ctx)
	})

	proc.OnShutdown(func() {
		r.unregister()
	})

	return r, nil
}

// register writes the first heartbeat.
// An existing record owned by a different process is a fatal
// misconfiguration: two processes share one serverId. A record left by a
// crashed predecessor also trips this check, it clears after the TTL.
func (r *Registry) register(ctx context.Context) error {
	key := r.schema.Nodes().ByID(r.cfg.ServerID)
	existing, err := key.Get(ctx, r.client)
	if err != nil {
		return err
	}
	if existing != nil && existing.Value.ProcessID != r.processID {
		return errors.PrefixErrorf(ErrDuplicateServerID, `node registration of "%s" failed, held by process "%s"`, r.cfg.ServerID, existing.Value.ProcessID)
	}
	if err := r.heartbeat(ctx); err != nil {
		return err
	}
	r.logger.Infof(ctx, `registered node "%s" in group "%s"`, r.cfg.ServerID, r.cfg.Group)
	return nil
}

// heartbeatLoop renews the node record on a fixed interval.
// Failures are retried and logged, never propagated: if the substrate
// stays unreachable the record expires and the node fences itself.
func (r *Registry) heartbeatLoop(ctx context.Context) {
	ticker := r.clock.Ticker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = r.cfg.HeartbeatInterval / 2
			err := backoff.Retry(func() error {
				return r.heartbeat(ctx)
			}, backoff.WithContext(b, ctx))
			if err != nil && ctx.Err() == nil {
				r.logger.Warnf(ctx, "heartbeat failed: %s", err)
			}
		}
	}
}

func (r *Registry) heartbeat(ctx context.Context) error {
	record := model.NodeRecord{
		ServerID:        r.cfg.ServerID,
		ProcessID:       r.processID,
		Group:           r.cfg.Group,
		Region:          r.cfg.Region,
		Address:         r.cfg.Address,
		Port:            r.cfg.Port,
		MaxPlayers:      r.cfg.MaxPlayers,
		CurrentPlayers:  r.players.Count(),
		LastHeartbeatAt: r.clock.Now().UTC(),
	}
	return r.schema.Nodes().ByID(r.cfg.ServerID).Put(ctx, r.client, record, substrate.WithTTL(r.cfg.HeartbeatTTL))
}

// unregister deletes the node record on a clean shutdown, so other nodes
// do not have to wait out the TTL.
func (r *Registry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.OperationTimeout)
	defer cancel()
	if _, err := r.schema.Nodes().ByID(r.cfg.ServerID).Delete(ctx, r.client); err != nil {
		r.logger.Warnf(ctx, "cannot unregister node: %s", err)
	} else {
		r.logger.Infof(ctx, `unregistered node "%s"`, r.cfg.ServerID)
	}
}

// OnlineNodes returns a snapshot of all non-expired node records,
// in undefined order. On substrate failure it returns the error,
// callers must treat it as "cannot route" and fail closed.
func (r *Registry) OnlineNodes(ctx context.Context) ([]model.NodeRecord, error) {
	kvs, err := r.schema.Nodes().GetAll(ctx, r.client)
	if err != nil {
		return nil, err
	}
	out := make([]model.NodeRecord, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, kv.Value)
	}
	return out, nil
}

// OnlineNode returns the node record, or nil.
// An unknown serverId and an expired record are indistinguishable.
func (r *Registry) OnlineNode(ctx context.Context, serverID string) (*model.NodeRecord, error) {
	kv, err := r.schema.Nodes().ByID(serverID).Get(ctx, r.client)
	if err != nil {
		return nil, err
	}
	if kv == nil {
		return nil, nil
	}
	return &kv.Value, nil
}

// SortByLoad orders candidates ascending by load ratio, ties broken by
// serverId so every node computes the same placement order.
func SortByLoad(nodes []model.NodeRecord) {
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, rj := nodes[i].LoadRatio(), nodes[j].LoadRatio()
		if ri != rj {
			return ri < rj
		}
		return nodes[i].ServerID < nodes[j].ServerID
	})
}

// PickTarget returns the least-loaded online node of the group that can
// accept a player, excluding this node. It returns nil if no node fits.
func (r *Registry) PickTarget(ctx context.Context, group string) (*model.NodeRecord, error) {
	nodes, err := r.OnlineNodes(ctx)
	if err != nil {
		return nil, err
	}
	candidates := nodes[:0]
	for _, node := range nodes {
		if node.Group != group || node.ServerID == r.cfg.ServerID || node.IsFull() {
			continue
		}
		candidates = append(candidates, node)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	SortByLoad(candidates)
	out := candidates[0]
	r.logger.With(attribute.String("serverId", out.ServerID)).Debugf(ctx, "picked transfer target")
	return &out, nil
}
