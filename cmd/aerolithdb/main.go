// Package main is aerolithdb's entry point: a thin cobra CLI that loads
// a settings record (§6), wires sharding, tiered storage, consensus,
// Byzantine tolerance and the document coordinator together, and serves
// the result over pkg/rpc plus a Prometheus/health HTTP endpoint.
//
// Grounded on cmd/warren/main.go's rootCmd/subcommand layout
// (persistent log flags, cobra.OnInitialize for logging setup, a
// "cluster" command group with init/join) and on its clusterInitCmd's
// construct-everything-then-wait-for-signal RunE body, generalized from
// Warren's manager/scheduler/reconciler/api wiring to aerolithdb's
// sharding/storage/consensus/byzantine/coordinator/rpc wiring.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/aerolithdb/pkg/byzantine"
	"github.com/cuemby/aerolithdb/pkg/config"
	"github.com/cuemby/aerolithdb/pkg/consensus"
	"github.com/cuemby/aerolithdb/pkg/coordinator"
	"github.com/cuemby/aerolithdb/pkg/log"
	"github.com/cuemby/aerolithdb/pkg/metrics"
	"github.com/cuemby/aerolithdb/pkg/rpc"
	"github.com/cuemby/aerolithdb/pkg/sharding"
	"github.com/cuemby/aerolithdb/pkg/storage"
	"github.com/hashicorp/raft"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aerolithdb",
	Short: "aerolithdb - a sharded, Byzantine-tolerant document database",
	Long: `aerolithdb is a distributed document database: consistent-hash
sharding, tiered storage (memory/SSD/distributed/archive), Raft
consensus, and quorum-based Byzantine fault tolerance, delivered as a
single binary.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"aerolithdb version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	startCmd.Flags().String("config", "", "Path to a YAML settings file (§6); required unless --node-id is set")
	startCmd.Flags().String("node-id", "", "Node id, used in place of --config for a zero-config single-node start")
	startCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Raft consensus bind address")
	startCmd.Flags().String("rpc-addr", "127.0.0.1:7947", "QueryService gRPC listen address")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus/health HTTP listen address")
	startCmd.Flags().String("data-dir", "./data", "Data directory for tiered storage and the Raft log")
	startCmd.Flags().Bool("bootstrap", false, "Bootstrap a brand-new single-node cluster instead of joining one")
	startCmd.Flags().StringSlice("peer", nil, "node_id=rpc_addr[=base64_ed25519_pubkey] of an existing cluster member to join (repeatable); the pubkey segment lets this node verify that peer's signed query fan-out requests per spec.md §6")

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an aerolithdb node",
	Long: `Start an aerolithdb node, either bootstrapping a new single-node
cluster (--bootstrap) or joining one or more existing members
(--peer node_id=rpc_addr, repeatable).`,
	RunE: runStart,
}

// peerSpec parses one --peer flag value. pubKey is nil when the peer
// was given without its optional signing-key segment, in which case
// this node can't validate that peer's signed query requests (§4.H
// signature check is skipped for that sender, not failed outright —
// see coordinator.queryRPCHandler.Query).
type peerSpec struct {
	nodeID string
	addr   string
	pubKey ed25519.PublicKey
}

func parsePeers(raw []string) ([]peerSpec, error) {
	peers := make([]peerSpec, 0, len(raw))
	for _, p := range raw {
		parts := strings.SplitN(p, "=", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --peer %q, want node_id=rpc_addr[=base64_pubkey]", p)
		}
		spec := peerSpec{nodeID: parts[0], addr: parts[1]}
		if len(parts) == 3 && parts[2] != "" {
			pub, err := base64.StdEncoding.DecodeString(parts[2])
			if err != nil {
				return nil, fmt.Errorf("invalid --peer %q: decode pubkey: %w", p, err)
			}
			if len(pub) != ed25519.PublicKeySize {
				return nil, fmt.Errorf("invalid --peer %q: pubkey is %d bytes, want %d", p, len(pub), ed25519.PublicKeySize)
			}
			spec.pubKey = ed25519.PublicKey(pub)
		}
		peers = append(peers, spec)
	}
	return peers, nil
}

// loadOrCreateIdentity loads this node's Ed25519 signing key from
// {dataDir}/identity.key, generating and persisting a fresh keypair on
// first start. The key authenticates this node's outbound query
// fan-out requests to peers (spec.md §6).
func loadOrCreateIdentity(dataDir string) (ed25519.PrivateKey, error) {
	path := filepath.Join(dataDir, "identity.key")
	if raw, err := os.ReadFile(path); err == nil {
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("identity key %s is %d bytes, want %d", path, len(raw), ed25519.PrivateKeySize)
		}
		return ed25519.PrivateKey(raw), nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("persist identity key: %w", err)
	}
	return priv, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	nodeIDFlag, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	rawPeers, _ := cmd.Flags().GetStringSlice("peer")

	var cfg config.Config
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		cfg.NodeID = nodeIDFlag
		cfg.BindAddress = bindAddr
		cfg.DataDir = dataDir
		cfg.BootstrapPeers = rawPeers
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("node_id is required: pass --config or --node-id")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	peers, err := parsePeers(cfg.BootstrapPeers)
	if err != nil {
		return err
	}

	logger := log.WithNodeID(cfg.NodeID)
	logger.Info().Str("data_dir", cfg.DataDir).Msg("starting aerolithdb node")

	tiers, err := storage.NewTierCoordinator(storage.Config{
		DataDir: cfg.DataDir,
	}, log.WithComponent("storage"))
	if err != nil {
		return fmt.Errorf("open tiered storage: %w", err)
	}
	defer tiers.Close()

	binding, err := consensus.NewRaftBinding(consensus.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.BindAddress,
		DataDir:  cfg.DataDir,
	}, tiers, log.WithComponent("consensus"))
	if err != nil {
		return fmt.Errorf("start consensus: %w", err)
	}
	defer binding.Shutdown()

	if bootstrap {
		if err := binding.Bootstrap(raft.ServerAddress(cfg.BindAddress)); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		logger.Info().Msg("bootstrapped a new single-node cluster")
	} else {
		for _, p := range peers {
			if err := binding.AddVoter(p.nodeID, p.addr); err != nil {
				logger.Warn().Err(err).Str("peer", p.nodeID).Msg("failed to add voter; continuing, this node may already be a member")
			}
		}
	}

	shard := sharding.NewEngine(cfg.ShardingStrategy, bootstrap)
	shard.AddNode(cfg.NodeID)
	for _, p := range peers {
		shard.AddNode(p.nodeID)
	}

	byz := byzantine.New(cfg.ByzantineTolerance, binding, log.WithComponent("byzantine"))

	identity, err := loadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load node identity: %w", err)
	}
	for _, p := range peers {
		if p.pubKey == nil {
			logger.Warn().Str("peer", p.nodeID).Msg("no pubkey supplied for peer; its query fan-out requests won't be signature-checked")
			continue
		}
		byz.RegisterPublicKey(p.nodeID, p.pubKey)
	}

	dialer := newGRPCPeerDialer(peers)
	defer dialer.closeAll()

	coord := coordinator.New(coordinator.Config{
		SelfNodeID:        cfg.NodeID,
		ReplicationFactor: cfg.ReplicationFactor,
		ProposalTimeout:   time.Duration(cfg.ConsensusTimeout),
		Signer:            identity,
	}, shard, tiers, binding, byz, dialer, log.WithComponent("coordinator"))

	rpcServer := rpc.NewServer(coord.RPCHandler())
	lis, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("listen on rpc-addr: %w", err)
	}
	rpcErrCh := make(chan error, 1)
	go func() {
		if err := rpcServer.Serve(lis); err != nil {
			rpcErrCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	logger.Info().Str("addr", rpcAddr).Msg("query service listening")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "")
	metrics.RegisterComponent("tiers", true, "")

	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-rpcErrCh:
		logger.Error().Err(err).Msg("rpc server failed")
	}

	rpcServer.Stop()
	return nil
}

// grpcPeerDialer implements coordinator.PeerDialer over pkg/rpc.Dial,
// resolving node ids to rpc addresses from the --peer flags supplied at
// startup. Connections are cached and reused across Query calls.
type grpcPeerDialer struct {
	addrs  map[string]string
	cached map[string]rpc.QueryServiceClient
	closes []func() error
}

func newGRPCPeerDialer(peers []peerSpec) *grpcPeerDialer {
	addrs := make(map[string]string, len(peers))
	for _, p := range peers {
		addrs[p.nodeID] = p.addr
	}
	return &grpcPeerDialer{addrs: addrs, cached: make(map[string]rpc.QueryServiceClient)}
}

func (d *grpcPeerDialer) Dial(ctx context.Context, nodeID string) (rpc.QueryServiceClient, error) {
	if c, ok := d.cached[nodeID]; ok {
		return c, nil
	}
	addr, ok := d.addrs[nodeID]
	if !ok {
		return nil, fmt.Errorf("no known rpc address for peer %q", nodeID)
	}
	conn, err := rpc.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dial peer %q at %s: %w", nodeID, addr, err)
	}
	client := rpc.NewQueryServiceClient(conn)
	d.cached[nodeID] = client
	d.closes = append(d.closes, conn.Close)
	return client, nil
}

func (d *grpcPeerDialer) closeAll() {
	for _, fn := range d.closes {
		_ = fn()
	}
}
