// Package model contains entities shared via the coordination substrate.
package model

import (
	"time"
)

// NodeRecord is the presence record of one game-server process.
// The record lives under a TTL key, a node is online iff the key has
// not expired, no node can claim another is alive past the TTL window.
type NodeRecord struct {
	ServerID        string    `json:"serverId" validate:"required"`
	ProcessID       string    `json:"processId" validate:"required"`
	Group           string    `json:"group" validate:"required"`
	Region          string    `json:"region"`
	Address         string    `json:"address" validate:"required"`
	Port            int       `json:"port" validate:"min=1,max=65535"`
	MaxPlayers      int       `json:"maxPlayers" validate:"min=1"`
	CurrentPlayers  int       `json:"currentPlayers" validate:"min=0"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// LoadRatio is used to rank nodes for placement, lower is better.
func (n NodeRecord) LoadRatio() float64 {
	if n.MaxPlayers <= 0 {
		return 1
	}
	return float64(n.CurrentPlayers) / float64(n.MaxPlayers)
}

func (n NodeRecord) IsFull() bool {
	return n.CurrentPlayers >= n.MaxPlayers
}
