package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/model"
)

func TestParty_SuccessorLeader(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	party := model.Party{
		PartyID:  "p1",
		LeaderID: "leader",
		Members: map[string]model.PartyMember{
			"leader": {JoinedAt: base},
			"second": {JoinedAt: base.Add(1 * time.Minute)},
			"third":  {JoinedAt: base.Add(2 * time.Minute)},
		},
	}

	// The longest-tenured remaining member wins.
	assert.Equal(t, "second", party.SuccessorLeader("leader"))

	// Ties are broken by lexicographic player ID.
	party.Members["alpha"] = model.PartyMember{JoinedAt: base.Add(1 * time.Minute)}
	assert.Equal(t, "alpha", party.SuccessorLeader("leader"))

	// The departing member is never its own successor.
	assert.Equal(t, "leader", party.SuccessorLeader("alpha"))
}

func TestParty_MemberIDs(t *testing.T) {
	t.Parallel()

	party := model.Party{Members: map[string]model.PartyMember{"c": {}, "a": {}, "b": {}}}
	assert.Equal(t, []string{"a", "b", "c"}, party.MemberIDs())
}

func TestNodeRecord_LoadRatio(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.5, model.NodeRecord{CurrentPlayers: 50, MaxPlayers: 100}.LoadRatio())
	assert.Equal(t, float64(1), model.NodeRecord{CurrentPlayers: 1, MaxPlayers: 0}.LoadRatio())
	assert.True(t, model.NodeRecord{CurrentPlayers: 100, MaxPlayers: 100}.IsFull())
	assert.False(t, model.NodeRecord{CurrentPlayers: 99, MaxPlayers: 100}.IsFull())
}
