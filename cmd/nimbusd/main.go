package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // pprof endpoints on the health listener
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/nimbus/pkg/api"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/manager"
)

var (
	// Version information (set via ldflags during build)
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
	Use:   "nimbusd",
	Short: "nimbusd - Nimbus cluster manager",
	Long: `nimbusd runs one manager node of a Nimbus cluster: the raft-backed
control plane that schedules function instances onto worker-reported
resource units and serves the NimbusAPI gRPC surface.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"nimbusd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(joinCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// clusterConfig is the YAML bootstrap file nimbusd reads to learn the
// full raft voting set up front, for operators who know the cluster
// size before the first node starts.
type clusterConfig struct {
	Peers []peerConfig `yaml:"peers"`
}

type peerConfig struct {
	NodeID  string `yaml:"nodeId"`
	Address string `yaml:"address"`
}

func loadClusterConfig(path string) ([]manager.Peer, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster config: %w", err)
	}
	var cfg clusterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse cluster config: %w", err)
	}
	peers := make([]manager.Peer, len(cfg.Peers))
	for i, p := range cfg.Peers {
		peers[i] = manager.Peer{NodeID: p.NodeID, Address: p.Address}
	}
	return peers, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a new Nimbus cluster and start this manager",
	Long: `Bootstrap initializes a new raft cluster with this node (and, if a
cluster config file is given, every peer it lists) as voting members,
then starts the gRPC API, health, and scheduler loops.

This call blocks; stop with SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		healthAddr, _ := cmd.Flags().GetString("health-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		clusterConfigPath, _ := cmd.Flags().GetString("cluster-config")

		peers, err := loadClusterConfig(clusterConfigPath)
		if err != nil {
			return err
		}

		mgr, err := manager.NewManager(&manager.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir})
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}
		if err := mgr.Bootstrap(peers...); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}

		return runDaemon(mgr, apiAddr, healthAddr)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Start this manager against an already-bootstrapped cluster",
	Long: `Join starts this node's raft instance without forming a new
configuration. The node must already have been admitted as a voter on
the cluster's current leader (see the cluster config file used at
"nimbusd init", or an operator-run raft AddVoter).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		healthAddr, _ := cmd.Flags().GetString("health-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		mgr, err := manager.NewManager(&manager.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir})
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}
		if err := mgr.JoinSelf(); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}

		return runDaemon(mgr, apiAddr, healthAddr)
	},
}

func init() {
	for _, c := range []*cobra.Command{initCmd, joinCmd} {
		c.Flags().String("node-id", "", "Unique ID for this manager node (required)")
		c.Flags().String("bind-addr", "127.0.0.1:7946", "Raft bind address")
		c.Flags().String("api-addr", "0.0.0.0:7070", "gRPC API listen address")
		c.Flags().String("health-addr", "0.0.0.0:7071", "Health/metrics HTTP listen address")
		c.Flags().String("data-dir", "/var/lib/nimbusd", "Directory for raft logs and the metadata store")
		_ = c.MarkFlagRequired("node-id")
	}
	initCmd.Flags().String("cluster-config", "", "YAML file listing every voting peer (nodeId, address)")
}

// runDaemon starts the API server, health server, and metrics
// collector, and blocks until an interrupt signal arrives.
func runDaemon(mgr *manager.Manager, apiAddr, healthAddr string) error {
	logger := log.Logger

	apiServer, err := api.NewServer(mgr, nil)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			logger.Error().Err(err).Msg("API server stopped")
		}
	}()

	healthServer := api.NewHealthServer(mgr)
	go func() {
		if err := healthServer.Start(healthAddr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server stopped")
		}
	}()

	collector := manager.NewMetricsCollector(mgr)
	collector.Start()
	defer collector.Stop()

	logger.Info().Str("node_id", mgr.NodeID()).Str("api_addr", apiAddr).Msg("nimbusd started")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info().Msg("shutting down nimbusd")
	apiServer.Stop()
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down manager: %w", err)
	}
	return nil
}
