// Package party owns the distributed party entity.
//
// All mutations are optimistic transactions against the party record's
// substrate revision: read, compute the new state, compare-and-swap,
// re-read and recompute on conflict. Writers never blind-overwrite.
//
// The player -> party reverse index enforces "a player belongs to at most
// one party". The index is written after the party record, a crash between
// the two writes leaves drift that the reconciliation sweep heals.
package party

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/idgenerator"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/log"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/model"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/schema"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/substrate"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

var (
	// ErrContention is returned when an optimistic transaction exceeds the
	// retry budget, it is distinct from a business-rule rejection and may
	// be retried at a higher level.
	ErrContention = errors.New("party operation exceeded the contention retry budget")
	// ErrAlreadyInParty is returned by CreateParty when the player already
	// belongs to a party.
	ErrAlreadyInParty = errors.New("player already belongs to a party")

	// errConflict restarts the optimistic transaction loop.
	errConflict = errors.New("optimistic transaction conflict")
)

type Manager struct {
	logger log.Logger
	clock  clock.Clock
	client substrate.Client
	schema *schema.Schema
	cfg    cluster.Config
}

func NewManager(logger log.Logger, clk clock.Clock, client substrate.Client, sch *schema.Schema, cfg cluster.Config) *Manager {
	return &Manager{
		logger: logger.WithComponent("party"),
		clock:  clk,
		client: client,
		schema: sch,
		cfg:    cfg,
	}
}

// CreateParty creates a new party with the player as leader and sole member.
func (m *Manager) CreateParty(ctx context.Context, playerID string) (*model.Party, error) {
	indexKey := m.schema.PartyIndex().ByPlayer(playerID)
	existing, err := indexKey.Get(ctx, m.client)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyInParty
	}

	now := m.clock.Now().UTC()
	party := model.Party{
		PartyID:   idgenerator.PartyId(),
		LeaderID:  playerID,
		Members:   map[string]model.PartyMember{playerID: {JoinedAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	// The party ID is fresh, only the index entry can race.
	if _, err := m.schema.Parties().ByID(party.PartyID).Create(ctx, m.client, party); err != nil {
		return nil, err
	}
	created, err := indexKey.Create(ctx, m.client, model.PartyRef{PartyID: party.PartyID})
	if err != nil {
		return nil, err
	}
	if !created {
		// The player joined another party in between, roll the record back.
		if _, err := m.schema.Parties().ByID(party.PartyID).Delete(ctx, m.client); err != nil {
			m.logger.Warnf(ctx, `cannot roll back party "%s": %s`, party.PartyID, err)
		}
		return nil, ErrAlreadyInParty
	}

	m.publish(ctx, Event{Type: EventCreated, PartyID: party.PartyID, PlayerID: playerID})
	return &party, nil
}

// Invite issues a TTL-limited invite from the leader's party to the target.
// A false return is an expected rejection: the caller is not the leader,
// the party is full, the target is already in a party or has a pending
// invite from this party.
func (m *Manager) Invite(ctx context.Context, leaderID, targetID string) (bool, error) {
	party, err := m.PartyByPlayer(ctx, leaderID)
	if err != nil {
		return false, err
	}
	if party == nil || party.LeaderID != leaderID || party.Terminating {
		return false, nil
	}
	if party.Size() >= m.cfg.PartyMaxSize || party.HasMember(targetID) {
		return false, nil
	}
	targetIndex, err := m.schema.PartyIndex().ByPlayer(targetID).Get(ctx, m.client)
	if err != nil {
		return false, err
	}
	if targetIndex != nil {
		return false, nil
	}

	invite := model.PartyInvite{
		PartyID:        party.PartyID,
		TargetPlayerID: targetID,
		InvitedBy:      leaderID,
		IssuedAt:       m.clock.Now().UTC(),
	}
	return m.schema.Invites().ForPlayer(targetID).ByParty(party.PartyID).
		Create(ctx, m.client, invite, substrate.WithTTL(m.cfg.InviteTTL))
}

// AcceptInvite joins the player to the party the invite points to.
// Preconditions are re-checked at commit time: a false return means the
// invite is missing or expired, the player already belongs to a party,
// or the party is gone, terminating or full.
func (m *Manager) AcceptInvite(ctx context.Context, playerID, partyID string) (bool, error) {
	inviteKey := m.schema.Invites().ForPlayer(playerID).ByParty(partyID)
	partyKey := m.schema.Parties().ByID(partyID)
	indexKey := m.schema.PartyIndex().ByPlayer(playerID)

	accepted := false
	err := m.retry(ctx, func(ctx context.Context) error {
		invite, err := inviteKey.Get(ctx, m.client)
		if err != nil {
			return err
		}
		if invite == nil {
			return nil // missing or expired, indistinguishable
		}

		index, err := indexKey.Get(ctx, m.client)
		if err != nil {
			return err
		}
		if index != nil {
			return nil
		}

		kv, err := partyKey.Get(ctx, m.client)
		if err != nil {
			return err
		}
		if kv == nil {
			// The party dissolved before the invite expired.
			_, _ = inviteKey.Delete(ctx, m.client)
			return nil
		}
		party := kv.Value
		if party.Terminating || party.Size() >= m.cfg.PartyMaxSize {
			return nil
		}

		now := m.clock.Now().UTC()
		party.Members[playerID] = model.PartyMember{JoinedAt: now}
		party.UpdatedAt = now
		party.Version++
		ok, err := partyKey.Update(ctx, m.client, party, kv.ModRevision)
		if err != nil {
			return err
		}
		if !ok {
			return errConflict
		}

		created, err := indexKey.Create(ctx, m.client, model.PartyRef{PartyID: partyID})
		if err != nil {
			return err
		}
		if !created {
			// The player raced into another party, undo the member add.
			if err := m.removeMember(ctx, partyID, playerID); err != nil {
				m.logger.Warnf(ctx, `cannot roll back member "%s" of party "%s": %s`, playerID, partyID, err)
			}
			return nil
		}

		_, _ = inviteKey.Delete(ctx, m.client)
		accepted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if accepted {
		m.publish(ctx, Event{Type: EventMemberJoined, PartyID: partyID, PlayerID: playerID})
	}
	return accepted, nil
}

// LeaveParty removes the player from its party.
// Leaving as leader promotes a deterministic successor, leaving as the
// last member dissolves the party, a zero-member record is never left
// behind. Leaving with no party is a no-op.
func (m *Manager) LeaveParty(ctx context.Context, playerID string) error {
	indexKey := m.schema.PartyIndex().ByPlayer(playerID)
	index, err := indexKey.Get(ctx, m.client)
	if err != nil {
		return err
	}
	if index == nil {
		return nil
	}
	partyID := index.Value.PartyID
	partyKey := m.schema.Parties().ByID(partyID)

	var events []Event
	err = m.retry(ctx, func(ctx context.Context) error {
		events = events[:0]
		kv, err := partyKey.Get(ctx, m.client)
		if err != nil {
			return err
		}
		if kv == nil || !kv.Value.HasMember(playerID) {
			// Drifted index entry, drop it.
			_, err := indexKey.DeleteIfRevision(ctx, m.client, index.ModRevision)
			return err
		}
		party := kv.Value

		if party.Size() == 1 {
			ok, err := partyKey.DeleteIfRevision(ctx, m.client, kv.ModRevision)
			if err != nil {
				return err
			}
			if !ok {
				return errConflict
			}
			events = append(events, Event{Type: EventDisbanded, PartyID: partyID})
		} else {
			delete(party.Members, playerID)
			if party.LeaderID == playerID {
				party.LeaderID = party.SuccessorLeader(playerID)
				events = append(events, Event{Type: EventLeaderChanged, PartyID: partyID, PlayerID: party.LeaderID})
			}
			party.UpdatedAt = m.clock.Now().UTC()
			party.Version++
			ok, err := partyKey.Update(ctx, m.client, party, kv.ModRevision)
			if err != nil {
				return err
			}
			if !ok {
				return errConflict
			}
			events = append(events, Event{Type: EventMemberLeft, PartyID: partyID, PlayerID: playerID})
		}

		if _, err := indexKey.Delete(ctx, m.client); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, event := range events {
		m.publish(ctx, event)
	}
	return nil
}

// KickMember removes the target from the leader's party.
// False is returned unless the caller leads a party containing the target,
// kicking yourself is rejected, leaving is the operation for that.
func (m *Manager) KickMember(ctx context.Context, leaderID, targetID string) (bool, error) {
	if leaderID == targetID {
		return false, nil
	}
	leaderIndex, err := m.schema.PartyIndex().ByPlayer(leaderID).Get(ctx, m.client)
	if err != nil {
		return false, err
	}
	if leaderIndex == nil {
		return false, nil
	}
	partyID := leaderIndex.Value.PartyID
	partyKey := m.schema.Parties().ByID(partyID)

	kicked := false
	err = m.retry(ctx, func(ctx context.Context) error {
		kv, err := partyKey.Get(ctx, m.client)
		if err != nil {
			return err
		}
		if kv == nil || kv.Value.LeaderID != leaderID || !kv.Value.HasMember(targetID) {
			return nil
		}
		party := kv.Value
		delete(party.Members, targetID)
		party.UpdatedAt = m.clock.Now().UTC()
		party.Version++
		ok, err := partyKey.Update(ctx, m.client, party, kv.ModRevision)
		if err != nil {
			return err
		}
		if !ok {
			return errConflict
		}
		if err := m.dropIndexEntry(ctx, targetID, partyID); err != nil {
			return err
		}
		kicked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if kicked {
		m.publish(ctx, Event{Type: EventMemberKicked, PartyID: partyID, PlayerID: targetID})
	}
	return kicked, nil
}

// DisbandParty deletes the leader's party and every member's reverse-index
// entry. The party is first marked terminating, so no member can join
// mid-disband and a crash midway is completed by the reconciliation sweep.
// False is returned unless the caller is the leader.
func (m *Manager) DisbandParty(ctx context.Context, leaderID string) (bool, error) {
	leaderIndex, err := m.schema.PartyIndex().ByPlayer(leaderID).Get(ctx, m.client)
	if err != nil {
		return false, err
	}
	if leaderIndex == nil {
		return false, nil
	}
	partyID := leaderIndex.Value.PartyID
	partyKey := m.schema.Parties().ByID(partyID)

	var terminating *model.Party
	err = m.retry(ctx, func(ctx context.Context) error {
		terminating = nil
		kv, err := partyKey.Get(ctx, m.client)
		if err != nil {
			return err
		}
		if kv == nil || kv.Value.LeaderID != leaderID {
			return nil
		}
		party := kv.Value
		party.Terminating = true
		party.Version++
		party.UpdatedAt = m.clock.Now().UTC()
		ok, err := partyKey.Update(ctx, m.client, party, kv.ModRevision)
		if err != nil {
			return err
		}
		if !ok {
			return errConflict
		}
		terminating = &party
		return nil
	})
	if err != nil {
		return false, err
	}
	if terminating == nil {
		return false, nil
	}

	if err := m.finishDisband(ctx, *terminating); err != nil {
		return false, err
	}
	return true, nil
}

// finishDisband clears the reverse-index entries of a terminating party and
// deletes the record. It is idempotent, the reconciliation sweep calls it
// for terminating parties found mid-disband.
func (m *Manager) finishDisband(ctx context.Context, party model.Party) error {
	for _, playerID := range party.MemberIDs() {
		if err := m.dropIndexEntry(ctx, playerID, party.PartyID); err != nil {
			return err
		}
	}
	if _, err := m.schema.Parties().ByID(party.PartyID).Delete(ctx, m.client); err != nil {
		return err
	}
	m.publish(ctx, Event{Type: EventDisbanded, PartyID: party.PartyID})
	return nil
}

// PartyByPlayer resolves the player's party via the reverse index.
// The result is eventually consistent with the last committed write.
func (m *Manager) PartyByPlayer(ctx context.Context, playerID string) (*model.Party, error) {
	index, err := m.schema.PartyIndex().ByPlayer(playerID).Get(ctx, m.client)
	if err != nil {
		return nil, err
	}
	if index == nil {
		return nil, nil
	}
	kv, err := m.schema.Parties().ByID(index.Value.PartyID).Get(ctx, m.client)
	if err != nil {
		return nil, err
	}
	if kv == nil {
		return nil, nil
	}
	return &kv.Value, nil
}

// PartyCount returns the count of party records in the cluster.
func (m *Manager) PartyCount(ctx context.Context) (int, error) {
	count, err := m.schema.Parties().Count(ctx, m.client)
	return int(count), err
}

// Invites returns IDs of parties with a pending invite for the player.
func (m *Manager) Invites(ctx context.Context, playerID string) ([]string, error) {
	kvs, err := m.schema.Invites().ForPlayer(playerID).GetAll(ctx, m.client)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, kv.Value.PartyID)
	}
	return out, nil
}

// removeMember CAS-removes the player from the party record,
// it is the rollback of a member add that lost the index race.
func (m *Manager) removeMember(ctx context.Context, partyID, playerID string) error {
	partyKey := m.schema.Parties().ByID(partyID)
	return m.retry(ctx, func(ctx context.Context) error {
		kv, err := partyKey.Get(ctx, m.client)
		if err != nil {
			return err
		}
		if kv == nil || !kv.Value.HasMember(playerID) {
			return nil
		}
		party := kv.Value
		if party.Size() == 1 {
			ok, err := partyKey.DeleteIfRevision(ctx, m.client, kv.ModRevision)
			if err != nil {
				return err
			}
			if !ok {
				return errConflict
			}
			return nil
		}
		delete(party.Members, playerID)
		if party.LeaderID == playerID {
			party.LeaderID = party.SuccessorLeader(playerID)
		}
		party.Version++
		party.UpdatedAt = m.clock.Now().UTC()
		ok, err := partyKey.Update(ctx, m.client, party, kv.ModRevision)
		if err != nil {
			return err
		}
		if !ok {
			return errConflict
		}
		return nil
	})
}

// dropIndexEntry deletes the player's index entry if it points to the party.
func (m *Manager) dropIndexEntry(ctx context.Context, playerID, partyID string) error {
	indexKey := m.schema.PartyIndex().ByPlayer(playerID)
	index, err := indexKey.Get(ctx, m.client)
	if err != nil {
		return err
	}
	if index == nil || index.Value.PartyID != partyID {
		return nil
	}
	_, err = indexKey.DeleteIfRevision(ctx, m.client, index.ModRevision)
	return err
}

// retry runs the optimistic transaction until it commits, hits a business
// rejection, or exhausts the attempt budget. Every attempt re-reads the
// fresh state, conflicts are never resolved by blind overwrite.
func (m *Manager) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.CASRetryInitialInterval
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if !errors.Is(err, errConflict) {
			return err
		}
		if attempt >= m.cfg.CASRetries {
			return ErrContention
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(b.NextBackOff()):
		}
	}
}
