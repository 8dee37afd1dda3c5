// Command cluster-node runs the cluster coordination core of one
// game-server process: node registry heartbeat, party state manager with
// its reconciliation sweep and the transfer coordinator.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/log"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/party"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/registry"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/schema"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/session"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/substrate"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/transfer"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/common/etcdclient"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/common/servicectx"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/validator"
)

const envPrefix = "HYTERNAL"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	clusterCfg, etcdCfg, logLevel, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	logger := log.NewServiceLogger(os.Stderr, logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc, err := servicectx.New(ctx, cancel, logger)
	if err != nil {
		return err
	}

	etcd, err := etcdclient.New(ctx, proc, logger, etcdCfg)
	if err != nil {
		return err
	}

	clk := clock.New()
	// Transient etcd failures are retried at the substrate boundary,
	// callers see ErrUnavailable only after the attempts are exhausted.
	client := substrate.WithRetry(logger, clk,
		substrate.NewEtcd(logger, etcd, clusterCfg.OperationTimeout, clusterCfg.EventTTL),
		substrate.NewRetryConfig())
	sch := schema.New(validator.New())
	sessions := session.NewLocalRegistry(clusterCfg.ServerID, clk)

	reg, err := registry.New(proc, logger, clk, client, sch, clusterCfg, sessions)
	if err != nil {
		// A serverId collision must not be served through, see ErrDuplicateServerID.
		return err
	}

	manager := party.NewManager(logger, clk, client, sch, clusterCfg)
	party.NewReconciler(manager).Start(proc)

	// The gameplay layer plugs its economy/quest/stat flush hook here,
	// the core never interprets that data.
	flusher := transfer.FlusherFunc(func(ctx context.Context, playerID string) error {
		return nil
	})
	coordinator := transfer.NewCoordinator(logger, clk, client, sch, clusterCfg, reg, sessions, flusher)
	coordinator.StartListener(proc)

	logger.Infof(ctx, `cluster node "%s" is running`, clusterCfg.ServerID)
	proc.WaitForShutdown()
	return nil
}

// loadConfig binds flags and HYTERNAL_* environment variables.
func loadConfig(args []string) (cluster.Config, etcdclient.Config, zapcore.Level, error) {
	clusterCfg := cluster.NewConfig()
	etcdCfg := etcdclient.NewConfig()

	flags := pflag.NewFlagSet("cluster-node", pflag.ContinueOnError)
	flags.String("server-id", "", "Unique ID of this server process in the cluster.")
	flags.String("group", "", "Server group, placement decisions stay within a group.")
	flags.String("region", "", "Region label, informational.")
	flags.String("address", "", "Address the game clients connect to.")
	flags.Int("port", 0, "Port the game clients connect to.")
	flags.Int("max-players", clusterCfg.MaxPlayers, "Maximum count of concurrently connected players.")
	flags.Int("party-max-size", clusterCfg.PartyMaxSize, "Maximum count of party members.")
	flags.Duration("heartbeat-ttl", clusterCfg.HeartbeatTTL, "Node record expiry if the heartbeat stops.")
	flags.Duration("heartbeat-interval", clusterCfg.HeartbeatInterval, "Node record renewal interval.")
	flags.Duration("invite-ttl", clusterCfg.InviteTTL, "Party invite expiry.")
	flags.Duration("transfer-ttl", clusterCfg.TransferTTL, "Transfer handoff window.")
	flags.Duration("event-ttl", clusterCfg.EventTTL, "Published event expiry, the pub/sub delivery window.")
	flags.Duration("reconcile-interval", clusterCfg.ReconcileInterval, "Interval of the reverse-index reconciliation sweep.")
	flags.String("etcd-endpoint", "", "Etcd endpoint.")
	flags.String("etcd-namespace", "hyternal", "Etcd namespace.")
	flags.String("etcd-username", "", "Etcd username.")
	flags.String("etcd-password", "", "Etcd password.")
	flags.String("log-level", "info", "Log level: debug, info, warn, error.")
	if err := flags.Parse(args); err != nil {
		return clusterCfg, etcdCfg, 0, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return clusterCfg, etcdCfg, 0, err
	}

	clusterCfg.ServerID = v.GetString("server-id")
	clusterCfg.Group = v.GetString("group")
	clusterCfg.Region = v.GetString("region")
	clusterCfg.Address = v.GetString("address")
	clusterCfg.Port = v.GetInt("port")
	clusterCfg.MaxPlayers = v.GetInt("max-players")
	clusterCfg.PartyMaxSize = v.GetInt("party-max-size")
	clusterCfg.HeartbeatTTL = v.GetDuration("heartbeat-ttl")
	clusterCfg.HeartbeatInterval = v.GetDuration("heartbeat-interval")
	clusterCfg.InviteTTL = v.GetDuration("invite-ttl")
	clusterCfg.TransferTTL = v.GetDuration("transfer-ttl")
	clusterCfg.EventTTL = v.GetDuration("event-ttl")
	clusterCfg.ReconcileInterval = v.GetDuration("reconcile-interval")
	etcdCfg.Endpoint = v.GetString("etcd-endpoint")
	etcdCfg.Namespace = v.GetString("etcd-namespace")
	etcdCfg.Username = v.GetString("etcd-username")
	etcdCfg.Password = v.GetString("etcd-password")

	var logLevel zapcore.Level
	if err := logLevel.Set(v.GetString("log-level")); err != nil {
		return clusterCfg, etcdCfg, 0, errors.PrefixError(err, "invalid log level")
	}

	if err := clusterCfg.Validate(); err != nil {
		return clusterCfg, etcdCfg, 0, errors.PrefixError(err, "invalid cluster configuration")
	}
	return clusterCfg, etcdCfg, logLevel, nil
}
