// Package transfer orchestrates moving a live player session between nodes.
//
// The handoff is guarded by a short-TTL TransferIntent: its CAS creation
// guarantees at most one transfer per player, its expiry resolves a
// partition or a crashed target. The fail-safe favors no silent state
// loss: an unconfirmed transfer leaves the player on the source node with
// a visible failure, never in limbo on two nodes.
package transfer

import (
	"context"
	"encoding/json"

	"github.com/benbjohnson/clock"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/log"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/model"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/registry"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/schema"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/session"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/substrate"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/common/servicectx"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

// ErrAlreadyTransferring means a non-expired TransferIntent exists for the
// player, concurrent route calls lose to exactly one winner.
var ErrAlreadyTransferring = errors.New("a transfer of the player is already in flight")

// Channel carries handoff notifications to target nodes.
const Channel = "transfer"

// Status enumerates routing outcomes, callers must switch on all cases.
type Status int

const (
	// Started: the intent is created, the handoff is in flight.
	Started Status = iota
	// Rejected: a precondition failed, nothing was changed.
	Rejected
	// Failed: the handoff began but could not proceed, the player stays
	// on the source node.
	Failed
)

type Outcome struct {
	Status Status
	Reason string
}

// Flusher persists a player's pending gameplay writes before the handoff,
// the target node re-reads that state fresh. The cluster core does not
// interpret the data.
type Flusher interface {
	FlushPlayer(ctx context.Context, playerID string) error
}

// FlusherFunc adapts a function to the Flusher interface.
type FlusherFunc func(ctx context.Context, playerID string) error

func (f FlusherFunc) FlushPlayer(ctx context.Context, playerID string) error {
	return f(ctx, playerID)
}

// Notification is the payload published on the transfer channel.
type Notification struct {
	PlayerID       string `json:"playerId"`
	SourceServerID string `json:"sourceServerId"`
	TargetServerID string `json:"targetServerId"`
	Reason         string `json:"reason"`
}

type Coordinator struct {
	logger   log.Logger
	clock    clock.Clock
	client   substrate.Client
	schema   *schema.Schema
	cfg      cluster.Config
	registry *registry.Registry
	sessions session.Registry
	flusher  Flusher
}

func NewCoordinator(logger log.Logger, clk clock.Clock, client substrate.Client, sch *schema.Schema, cfg cluster.Config, reg *registry.Registry, sessions session.Registry, flusher Flusher) *Coordinator {
	return &Coordinator{
		logger:   logger.WithComponent("transfer"),
		clock:    clk,
		client:   client,
		schema:   sch,
		cfg:      cfg,
		registry: reg,
		sessions: sessions,
		flusher:  flusher,
	}
}

// RoutePlayer starts the handoff of the player's session to the target node.
//
// Preconditions are checked against the registry snapshot, a late rejection
// by the target itself is still possible and surfaces as Failed.
// ErrAlreadyTransferring is returned when an intent already exists.
func (c *Coordinator) RoutePlayer(ctx context.Context, playerID, targetServerID, reason string) (Outcome, error) {
	live := c.sessions.GetPlayer(playerID)
	if live == nil {
		return Outcome{Status: Rejected, Reason: "player has no live session on this node"}, nil
	}
	if live.ServerID == targetServerID {
		return Outcome{Status: Rejected, Reason: "player is already on the target node"}, nil
	}

	target, err := c.registry.OnlineNode(ctx, targetServerID)
	if err != nil {
		return Outcome{Status: Failed, Reason: "cluster registry is unavailable"}, err
	}
	if target == nil {
		return Outcome{Status: Rejected, Reason: "target node is not online"}, nil
	}
	if target.IsFull() {
		return Outcome{Status: Rejected, Reason: "target node is full"}, nil
	}

	intent := model.TransferIntent{
		PlayerID:       playerID,
		SourceServerID: live.ServerID,
		TargetServerID: targetServerID,
		Reason:         reason,
		CreatedAt:      c.clock.Now().UTC(),
	}
	intentKey := c.schema.Transfers().ByPlayer(playerID)
	created, err := intentKey.Create(ctx, c.client, intent, substrate.WithTTL(c.cfg.TransferTTL))
	if err != nil {
		return Outcome{Status: Failed, Reason: "cannot create transfer intent"}, err
	}
	if !created {
		return Outcome{}, ErrAlreadyTransferring
	}

	// Quiesce: pending gameplay writes must land before the disconnect,
	// the target re-reads them fresh.
	if err := c.flusher.FlushPlayer(ctx, playerID); err != nil {
		c.logger.Warnf(ctx, `cannot flush player "%s", aborting transfer: %s`, playerID, err)
		if _, delErr := intentKey.Delete(ctx, c.client); delErr != nil {
			c.logger.Warnf(ctx, `cannot delete transfer intent of "%s": %s`, playerID, delErr)
		}
		return Outcome{Status: Failed, Reason: "cannot flush player state"}, nil
	}

	c.notify(ctx, Notification{
		PlayerID:       playerID,
		SourceServerID: live.ServerID,
		TargetServerID: targetServerID,
		Reason:         reason,
	})

	c.logger.Infof(ctx, `transfer of player "%s" to node "%s" started (%s)`, playerID, targetServerID, reason)
	return Outcome{Status: Started}, nil
}

// Confirm acknowledges the player's arrival on the target node and clears
// the intent. Confirming an expired or mismatching intent fails: the
// transfer already resolved as failed on the source side.
func (c *Coordinator) Confirm(ctx context.Context, playerID, targetServerID string) error {
	intentKey := c.schema.Transfers().ByPlayer(playerID)
	kv, err := intentKey.Get(ctx, c.client)
	if err != nil {
		return err
	}
	if kv == nil {
		return errors.Errorf(`transfer of player "%s" expired before confirmation`, playerID)
	}
	if kv.Value.TargetServerID != targetServerID {
		return errors.Errorf(`transfer of player "%s" targets node "%s", not "%s"`, playerID, kv.Value.TargetServerID, targetServerID)
	}
	ok, err := intentKey.DeleteIfRevision(ctx, c.client, kv.ModRevision)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf(`transfer of player "%s" changed during confirmation`, playerID)
	}
	c.logger.Infof(ctx, `transfer of player "%s" to node "%s" confirmed`, playerID, targetServerID)
	return nil
}

// Abort clears the intent from the source side, the player stays local.
func (c *Coordinator) Abort(ctx context.Context, playerID string) error {
	_, err := c.schema.Transfers().ByPlayer(playerID).Delete(ctx, c.client)
	return err
}

// IsTransferring reports whether the player's location is in flux.
// Other components must treat such a player as not reliably routable.
func (c *Coordinator) IsTransferring(ctx context.Context, playerID string) (bool, error) {
	kv, err := c.schema.Transfers().ByPlayer(playerID).Get(ctx, c.client)
	if err != nil {
		return false, err
	}
	return kv != nil, nil
}

// StartListener consumes handoff notifications addressed to this node, so
// the incoming player can be pre-admitted before the connection arrives.
// The gameplay layer calls Confirm once the player's session is established.
func (c *Coordinator) StartListener(proc *servicectx.Process) {
	proc.Add(func(ctx context.Context, _ chan<- error) {
		for msg := range c.client.Subscribe(ctx, Channel) {
			var n Notification
			if err := json.Unmarshal(msg.Payload, &n); err != nil {
				c.logger.Warnf(ctx, "cannot decode transfer notification: %s", err)
				continue
			}
			if n.TargetServerID != c.cfg.ServerID {
				continue
			}
			c.logger.Infof(ctx, `expecting player "%s" from node "%s" (%s)`, n.PlayerID, n.SourceServerID, n.Reason)
		}
	})
}

func (c *Coordinator) notify(ctx context.Context, n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		c.logger.Warnf(ctx, "cannot encode transfer notification: %s", err)
		return
	}
	if err := c.client.Publish(ctx, Channel, payload); err != nil {
		// Best effort: an undelivered notification lets the intent expire,
		// which resolves as a failed transfer on the source.
		c.logger.Warnf(ctx, "cannot publish transfer notification: %s", err)
	}
}
