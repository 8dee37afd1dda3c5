package party

import (
	"context"
	"encoding/json"
)

// Channel is the pub/sub channel carrying party change notifications.
// Remote nodes use them to refresh advisory caches, the substrate records
// stay authoritative.
const Channel = "party"

type EventType string

const (
	EventCreated       EventType = "created"
	EventMemberJoined  EventType = "member-joined"
	EventMemberLeft    EventType = "member-left"
	EventMemberKicked  EventType = "member-kicked"
	EventLeaderChanged EventType = "leader-changed"
	EventDisbanded     EventType = "disbanded"
)

type Event struct {
	Type     EventType `json:"type"`
	PartyID  string    `json:"partyId"`
	PlayerID string    `json:"playerId,omitempty"`
}

// publish is best effort, a lost notification only delays a cache refresh.
func (m *Manager) publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Warnf(ctx, "cannot encode party event: %s", err)
		return
	}
	if err := m.client.Publish(ctx, Channel, payload); err != nil {
		m.logger.Debugf(ctx, "cannot publish party event: %s", err)
	}
}
