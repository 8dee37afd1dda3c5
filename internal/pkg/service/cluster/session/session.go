// Package session resolves human-facing identifiers to live player sessions.
//
// The Registry interface is the boundary to the gameplay layer, the cluster
// core only checks online-ness and the owning server, it never interprets
// session state.
package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Session is a live player connection on some node.
type Session struct {
	PlayerID    string
	Name        string
	ServerID    string
	ConnectedAt time.Time
}

type Registry interface {
	// GetPlayer returns the session of the player, or nil if the player is offline.
	GetPlayer(playerID string) *Session
	// FindByName returns the session with the name, or nil if no such player is online.
	FindByName(name string) *Session
}

// LocalRegistry tracks sessions connected to this node.
// The session count feeds the node's heartbeat record.
type LocalRegistry struct {
	serverID string
	clock    clock.Clock

	lock     *sync.RWMutex
	byPlayer map[string]*Session
	byName   map[string]*Session
}

func NewLocalRegistry(serverID string, clk clock.Clock) *LocalRegistry {
	return &LocalRegistry{
		serverID: serverID,
		clock:    clk,
		lock:     &sync.RWMutex{},
		byPlayer: make(map[string]*Session),
		byName:   make(map[string]*Session),
	}
}

func (r *LocalRegistry) Add(playerID, name string) *Session {
	r.lock.Lock()
	defer r.lock.Unlock()
	s := &Session{PlayerID: playerID, Name: name, ServerID: r.serverID, ConnectedAt: r.clock.Now()}
	r.byPlayer[playerID] = s
	r.byName[name] = s
	return s
}

func (r *LocalRegistry) Remove(playerID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if s, found := r.byPlayer[playerID]; found {
		delete(r.byPlayer, playerID)
		delete(r.byName, s.Name)
	}
}

func (r *LocalRegistry) GetPlayer(playerID string) *Session {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.byPlayer[playerID]
}

func (r *LocalRegistry) FindByName(name string) *Session {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.byName[name]
}

func (r *LocalRegistry) Count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.byPlayer)
}
