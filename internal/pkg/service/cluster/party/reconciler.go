package party

import (
	"context"
	"sort"
	"strings"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/model"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/schema"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/common/servicectx"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

// Reconciler is the safety net for the eventually consistent reverse index.
//
// The party record and its index entries are separate CAS writes, a crash
// between them leaves drift. The sweep rebuilds index entries from the
// authoritative Party records, completes interrupted disbands and resolves
// the transient state where a player appears in two party records.
// It never crashes a request path, findings are logged and self-healed.
type Reconciler struct {
	manager *Manager
}

func NewReconciler(manager *Manager) *Reconciler {
	return &Reconciler{manager: manager}
}

// Start runs the sweep periodically until the process shuts down.
func (r *Reconciler) Start(proc *servicectx.Process) {
	m := r.manager
	proc.Add(func(ctx context.Context, _ chan<- error) {
		ticker := m.clock.Ticker(m.cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.ReconcileOnce(ctx); err != nil && ctx.Err() == nil {
					m.logger.Warnf(ctx, "reconciliation sweep failed: %s", err)
				}
			}
		}
	})
}

// ReconcileOnce runs one full sweep.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	m := r.manager

	parties, err := m.schema.Parties().GetAll(ctx, m.client)
	if err != nil {
		return err
	}
	indexes, err := m.schema.PartyIndex().GetAll(ctx, m.client)
	if err != nil {
		return err
	}

	errs := errors.NewMultiError()

	// Complete interrupted disbands first, their members must not be
	// counted as valid memberships below.
	active := make(map[string]model.Party)
	for _, kv := range parties {
		if kv.Value.Terminating {
			m.logger.Infof(ctx, `completing interrupted disband of party "%s"`, kv.Value.PartyID)
			errs.AppendWithPrefix(m.finishDisband(ctx, kv.Value), "cannot complete disband")
			continue
		}
		active[kv.Value.PartyID] = kv.Value
	}

	// Authoritative membership: player -> party, a player found in several
	// records is resolved deterministically to the oldest membership.
	owner := make(map[string]model.Party)
	for _, party := range active {
		for playerID := range party.Members {
			current, found := owner[playerID]
			if !found {
				owner[playerID] = party
				continue
			}
			win := resolveOwner(current, party, playerID)
			owner[playerID] = win
			lose := current
			if win.PartyID == current.PartyID {
				lose = party
			}
			m.logger.Warnf(ctx, `player "%s" found in parties "%s" and "%s", keeping "%s"`, playerID, current.PartyID, party.PartyID, win.PartyID)
			errs.AppendWithPrefix(m.removeMember(ctx, lose.PartyID, playerID), "cannot remove double membership")
		}
	}

	// Drop index entries that contradict the authoritative records.
	indexed := make(map[string]bool)
	for _, kv := range indexes {
		playerID := playerIDFromIndexKey(m.schema, kv.Key)
		want, found := owner[playerID]
		if found && want.PartyID == kv.Value.PartyID {
			indexed[playerID] = true
			continue
		}
		m.logger.Infof(ctx, `dropping orphaned index entry of player "%s" -> party "%s"`, playerID, kv.Value.PartyID)
		if _, err := m.schema.PartyIndex().ByPlayer(playerID).DeleteIfRevision(ctx, m.client, kv.ModRevision); err != nil {
			errs.AppendWithPrefix(err, "cannot drop index entry")
		}
	}

	// Restore missing index entries from the authoritative records.
	for _, playerID := range sortedKeys(owner) {
		if indexed[playerID] {
			continue
		}
		party := owner[playerID]
		m.logger.Infof(ctx, `restoring index entry of player "%s" -> party "%s"`, playerID, party.PartyID)
		if _, err := m.schema.PartyIndex().ByPlayer(playerID).Create(ctx, m.client, model.PartyRef{PartyID: party.PartyID}); err != nil {
			errs.AppendWithPrefix(err, "cannot restore index entry")
		}
	}

	return errs.ErrorOrNil()
}

// resolveOwner picks the winning membership of a double-joined player:
// the earliest join, ties broken by lexicographic party ID.
func resolveOwner(a, b model.Party, playerID string) model.Party {
	ja, jb := a.Members[playerID].JoinedAt, b.Members[playerID].JoinedAt
	switch {
	case ja.Before(jb):
		return a
	case jb.Before(ja):
		return b
	case a.PartyID < b.PartyID:
		return a
	default:
		return b
	}
}

func playerIDFromIndexKey(s *schema.Schema, key string) string {
	return strings.TrimPrefix(key, s.PartyIndex().Prefix())
}

func sortedKeys(m map[string]model.Party) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
