package model

import (
	"sort"
	"time"
)

// Party is the distributed party entity.
//
// Concurrent writers from different nodes serialize on the record's
// substrate revision, the Version field is a monotonic counter bumped
// on every committed mutation so observers can order snapshots.
type Party struct {
	PartyID   string                 `json:"partyId" validate:"required"`
	LeaderID  string                 `json:"leaderId" validate:"required"`
	Members   map[string]PartyMember `json:"members" validate:"required,min=1"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
	Version   int64                  `json:"version" validate:"min=1"`
	// Terminating marks a disband in progress, new members are rejected.
	// The record is deleted once all reverse-index entries are cleared.
	Terminating bool `json:"terminating,omitempty"`
}

type PartyMember struct {
	JoinedAt time.Time `json:"joinedAt"`
}

// PartyRef is the value of the player -> party reverse index.
type PartyRef struct {
	PartyID string `json:"partyId" validate:"required"`
}

// PartyInvite is an ephemeral record, it expires via TTL and is never
// persisted beyond it.
type PartyInvite struct {
	PartyID        string    `json:"partyId" validate:"required"`
	TargetPlayerID string    `json:"targetPlayerId" validate:"required"`
	InvitedBy      string    `json:"invitedBy" validate:"required"`
	IssuedAt       time.Time `json:"issuedAt"`
}

func (p Party) HasMember(playerID string) bool {
	_, found := p.Members[playerID]
	return found
}

func (p Party) Size() int {
	return len(p.Members)
}

// MemberIDs returns member player IDs in lexicographic order.
func (p Party) MemberIDs() []string {
	out := make([]string, 0, len(p.Members))
	for id := range p.Members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SuccessorLeader picks the new leader when the current one departs:
// the longest-tenured remaining member, ties broken by lexicographic
// player ID. The rule is deterministic so concurrent observers converge
// on the same successor.
func (p Party) SuccessorLeader(departing string) string {
	successor := ""
	var successorJoin time.Time
	for id, member := range p.Members {
		if id == departing {
			continue
		}
		if successor == "" || member.JoinedAt.Before(successorJoin) || (member.JoinedAt.Equal(successorJoin) && id < successor) {
			successor = id
			successorJoin = member.JoinedAt
		}
	}
	return successor
}
