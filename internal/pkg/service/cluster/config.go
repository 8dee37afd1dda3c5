// Package cluster holds the static per-process configuration of the
// cluster coordination core.
package cluster

import (
	"time"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

type Config struct {
	// ServerID is the stable, cluster-unique identity of this process.
	ServerID string `configKey:"serverId" configUsage:"Unique ID of this server process in the cluster." validate:"required"`
	Group    string `configKey:"group" configUsage:"Server group, placement decisions stay within a group." validate:"required"`
	Region   string `configKey:"region" configUsage:"Region label, informational."`
	Address  string `configKey:"address" configUsage:"Address the game clients connect to." validate:"required"`
	Port     int    `configKey:"port" configUsage:"Port the game clients connect to." validate:"min=1,max=65535"`

	MaxPlayers   int `configKey:"maxPlayers" configUsage:"Maximum count of concurrently connected players." validate:"min=1"`
	PartyMaxSize int `configKey:"partyMaxSize" configUsage:"Maximum count of party members." validate:"min=1"`

	// HeartbeatInterval must be strictly shorter than HeartbeatTTL,
	// otherwise the node record would flap between renewals.
	HeartbeatTTL      time.Duration `configKey:"heartbeatTTL" configUsage:"Node record expiry if the heartbeat stops." validate:"required"`
	HeartbeatInterval time.Duration `configKey:"heartbeatInterval" configUsage:"Node record renewal interval." validate:"required"`

	InviteTTL   time.Duration `configKey:"inviteTTL" configUsage:"Party invite expiry." validate:"required"`
	TransferTTL time.Duration `configKey:"transferTTL" configUsage:"Transfer handoff window, an unconfirmed transfer fails after it." validate:"required"`
	EventTTL    time.Duration `configKey:"eventTTL" configUsage:"Published event expiry, the pub/sub delivery window." validate:"required"`

	CASRetries              int           `configKey:"casRetries" configUsage:"Maximum attempts of an optimistic transaction before the Contention failure." validate:"min=1"`
	CASRetryInitialInterval time.Duration `configKey:"casRetryInitialInterval" configUsage:"Initial backoff delay between optimistic transaction attempts." validate:"required"`

	OperationTimeout  time.Duration `configKey:"operationTimeout" configUsage:"Timeout of one substrate round-trip." validate:"required"`
	ReconcileInterval time.Duration `configKey:"reconcileInterval" configUsage:"Interval of the reverse-index reconciliation sweep." validate:"required"`
}

func NewConfig() Config {
	return Config{
		PartyMaxSize:            4,
		MaxPlayers:              100,
		HeartbeatTTL:            15 * time.Second,
		HeartbeatInterval:       5 * time.Second,
		InviteTTL:               30 * time.Second,
		TransferTTL:             5 * time.Second,
		EventTTL:                15 * time.Second,
		CASRetries:              5,
		CASRetryInitialInterval: 25 * time.Millisecond,
		OperationTimeout:        10 * time.Second,
		ReconcileInterval:       60 * time.Second,
	}
}

func (c *Config) Validate() error {
	errs := errors.NewMultiError()
	if c.ServerID == "" {
		errs.Append(errors.New("serverId is not set"))
	}
	if c.Group == "" {
		errs.Append(errors.New("group is not set"))
	}
	if c.Address == "" {
		errs.Append(errors.New("address is not set"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs.Append(errors.Errorf("port must be in range 1-65535, found %d", c.Port))
	}
	if c.MaxPlayers < 1 {
		errs.Append(errors.New("maxPlayers must be at least 1"))
	}
	if c.PartyMaxSize < 1 {
		errs.Append(errors.New("partyMaxSize must be at least 1"))
	}
	if c.HeartbeatInterval >= c.HeartbeatTTL {
		errs.Append(errors.Errorf("heartbeatInterval %s must be shorter than heartbeatTTL %s", c.HeartbeatInterval, c.HeartbeatTTL))
	}
	if c.InviteTTL <= 0 {
		errs.Append(errors.New("inviteTTL must be positive"))
	}
	if c.TransferTTL <= 0 {
		errs.Append(errors.New("transferTTL must be positive"))
	}
	if c.EventTTL <= 0 {
		errs.Append(errors.New("eventTTL must be positive"))
	}
	if c.CASRetries < 1 {
		errs.Append(errors.New("casRetries must be at least 1"))
	}
	if c.OperationTimeout <= 0 {
		errs.Append(errors.New("operationTimeout must be positive"))
	}
	if c.ReconcileInterval <= 0 {
		errs.Append(errors.New("reconcileInterval must be positive"))
	}
	return errs.ErrorOrNil()
}
