// Package schema defines the substrate key namespaces of the cluster core.
//
// Layout:
//
//	runtime/cluster/node/<serverId>              -> model.NodeRecord   (heartbeat TTL)
//	cluster/party/<partyId>                      -> model.Party
//	cluster/party-index/<playerId>               -> model.PartyRef
//	runtime/cluster/invite/<playerId>/<partyId>  -> model.PartyInvite  (invite TTL)
//	runtime/cluster/transfer/<playerId>          -> model.TransferIntent (transfer TTL)
//
// Keys under "runtime" are ephemeral, they expire on their own and carry
// no durable state.
package schema

import (
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/model"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/validator"
)

type Schema struct {
	serde *Serde
}

func New(v validator.Validator) *Schema {
	return &Schema{serde: NewSerde(v)}
}

type nodes = PrefixT[model.NodeRecord]

type Nodes struct {
	nodes
}

func (s *Schema) Nodes() Nodes {
	return Nodes{nodes: NewTypedPrefix[model.NodeRecord]("runtime/cluster/node", s.serde)}
}

func (v Nodes) ByID(serverID string) KeyT[model.NodeRecord] {
	return v.Key(serverID)
}

type parties = PrefixT[model.Party]

type Parties struct {
	parties
}

func (s *Schema) Parties() Parties {
	return Parties{parties: NewTypedPrefix[model.Party]("cluster/party", s.serde)}
}

func (v Parties) ByID(partyID string) KeyT[model.Party] {
	return v.Key(partyID)
}

type partyIndex = PrefixT[model.PartyRef]

// PartyIndex is the player -> party reverse index. It is a derived,
// eventually consistent structure, the Party records are authoritative.
type PartyIndex struct {
	partyIndex
}

func (s *Schema) PartyIndex() PartyIndex {
	return PartyIndex{partyIndex: NewTypedPrefix[model.PartyRef]("cluster/party-index", s.serde)}
}

func (v PartyIndex) ByPlayer(playerID string) KeyT[model.PartyRef] {
	return v.Key(playerID)
}

type invites = PrefixT[model.PartyInvite]

type Invites struct {
	invites
}

type InvitesForPlayer struct {
	invites
}

func (s *Schema) Invites() Invites {
	return Invites{invites: NewTypedPrefix[model.PartyInvite]("runtime/cluster/invite", s.serde)}
}

func (v Invites) ForPlayer(playerID string) InvitesForPlayer {
	return InvitesForPlayer{invites: v.invites.Add(playerID)}
}

func (v InvitesForPlayer) ByParty(partyID string) KeyT[model.PartyInvite] {
	return v.Key(partyID)
}

type transfers = PrefixT[model.TransferIntent]

type Transfers struct {
	transfers
}

func (s *Schema) Transfers() Transfers {
	return Transfers{transfers: NewTypedPrefix[model.TransferIntent]("runtime/cluster/transfer", s.serde)}
}

func (v Transfers) ByPlayer(playerID string) KeyT[model.TransferIntent] {
	return v.Key(playerID)
}
