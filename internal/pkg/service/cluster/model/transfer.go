package model

import (
	"time"
)

// TransferIntent marks a player's session handoff in flight.
// At most one intent exists per player, its presence means the player's
// authoritative location is in flux and the player must be treated as
// not reliably routable until the intent clears.
//
// The record carries a short TTL covering only the handoff window:
// a confirmed arrival deletes it, an expiry is a failed transfer and the
// player remains on the source node.
type TransferIntent struct {
	PlayerID       string    `json:"playerId" validate:"required"`
	SourceServerID string    `json:"sourceServerId" validate:"required"`
	TargetServerID string    `json:"targetServerId" validate:"required"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"createdAt"`
}
