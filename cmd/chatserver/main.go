package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cuemby/chatcluster/pkg/bootstrap"
	"github.com/cuemby/chatcluster/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "chatserver",
	Short:   "A replicated, term-based, leader-driven chat cluster node",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("chatserver version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("heartbeat-log-level", "", "Log level for heartbeat/election-timer lines (defaults to --log-level)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	hbLevel, _ := rootCmd.PersistentFlags().GetString("heartbeat-log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:          log.Level(logLevel),
		HeartbeatLevel: log.Level(hbLevel),
		JSONOutput:     logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start this node and join (or form) the cluster (orig §6)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		replicasCSV, _ := cmd.Flags().GetString("replicas")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		healthAddr, _ := cmd.Flags().GetString("health-addr")

		var replicas []string
		for _, r := range strings.Split(replicasCSV, ",") {
			if r = strings.TrimSpace(r); r != "" {
				replicas = append(replicas, r)
			}
		}

		node, err := bootstrap.New(bootstrap.Config{
			Host:       host,
			Port:       port,
			Replicas:   replicas,
			DataDir:    dataDir,
			HealthAddr: healthAddr,
			Version:    Version,
		})
		if err != nil {
			return fmt.Errorf("failed to start node: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Info(fmt.Sprintf("chatserver %s starting, server_id=%s replicas=%v", Version, bootstrap.Config{Host: host, Port: port}.ServerID(), replicas))
		return node.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "Host this node advertises and binds to (orig §4.6)")
	serveCmd.Flags().Int("port", 9000, "Port this node listens on for both RPC surfaces")
	serveCmd.Flags().String("replicas", "", "Comma-separated host:port list of the other nodes in the cluster")
	serveCmd.Flags().String("data-dir", "./data", "Directory for durable storage and replication state")
	serveCmd.Flags().String("health-addr", "127.0.0.1:9090", "Address for the /health, /ready, /metrics HTTP server")
}
