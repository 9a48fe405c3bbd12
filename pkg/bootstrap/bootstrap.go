// Package bootstrap wires a chatcluster node together from its CLI flags
// (SPEC_FULL.md §2's "Configuration" ambient-stack entry): static peer set
// and identity, durable-state directory, the storage/broker/transport
// triple, the Replication Manager, both RPC surfaces, the health server,
// and a late-joiner catch-up pass. Grounded on the teacher's (now-deleted)
// `pkg/manager.NewManager`/`Config`/`Bootstrap`/`Join` shape, generalized
// from Raft cluster formation + join-token handshake to a static peer list
// with snapshot catch-up (orig §4.6).
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cuemby/chatcluster/pkg/api"
	"github.com/cuemby/chatcluster/pkg/broker"
	"github.com/cuemby/chatcluster/pkg/health"
	"github.com/cuemby/chatcluster/pkg/log"
	"github.com/cuemby/chatcluster/pkg/replication"
	"github.com/cuemby/chatcluster/pkg/rpc"
	"github.com/cuemby/chatcluster/pkg/storage"
	"google.golang.org/grpc"
)

// Config is the set of CLI-derived parameters a node needs to start (orig
// §4.6/§6 CLI section: host, port, and the static replica set).
type Config struct {
	Host        string
	Port        int
	Replicas    []string // peer "host:port" identities, excluding self
	DataDir     string
	HealthAddr  string // address for the /health, /ready, /metrics HTTP server
	Version     string
	CatchUpTime time.Duration // bound on the startup catch-up RPC round trip; 0 uses a sane default
}

// ServerID returns this node's "host:port" identity, the same string form
// used for peer identities throughout pkg/replication (orig §4.6).
func (c Config) ServerID() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Node is a fully-wired, not-yet-serving chatcluster instance.
type Node struct {
	cfg     Config
	store   storage.Store
	manager *replication.Manager
	api     *api.Server
	health  *health.Server
	grpc    *grpc.Server
}

// New constructs a Node: opens durable storage, builds the Replication
// Manager with a real gRPC peer transport, and catches up from a peer if
// this node's store is empty (orig §4.6 "a fresh node joining the cluster
// first catches up via snapshot from any peer").
func New(cfg Config) (*Node, error) {
	if cfg.CatchUpTime == 0 {
		cfg.CatchUpTime = 10 * time.Second
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	mgr, err := replication.NewManager(replication.Config{
		ServerID:  cfg.ServerID(),
		Peers:     cfg.Replicas,
		DataDir:   cfg.DataDir,
		Store:     store,
		Broker:    broker.New(),
		Transport: replication.NewGRPCTransport(),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("start replication manager: %w", err)
	}

	if len(cfg.Replicas) > 0 {
		if empty, err := storeIsEmpty(store); err != nil {
			log.WithComponent("bootstrap").Warn().Err(err).Msg("could not determine whether store is empty, skipping catch-up")
		} else if empty {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.CatchUpTime)
			defer cancel()
			if err := mgr.CatchUp(ctx); err != nil {
				log.WithComponent("bootstrap").Warn().Err(err).Msg("startup catch-up failed, joining with an empty store")
			} else {
				log.WithComponent("bootstrap").Info().Msg("caught up from a peer")
			}
		}
	}

	apiServer := api.NewServer(mgr)
	healthServer := health.NewServer(mgr, store, cfg.Version)

	return &Node{
		cfg:     cfg,
		store:   store,
		manager: mgr,
		api:     apiServer,
		health:  healthServer,
	}, nil
}

// storeIsEmpty reports whether no account or message has ever been
// committed locally — the trigger condition for startup catch-up.
func storeIsEmpty(store storage.Store) (bool, error) {
	accounts, err := store.ListAccounts("*")
	if err != nil {
		return false, err
	}
	if len(accounts) > 0 {
		return false, nil
	}
	highest, err := store.HighestMessageID()
	if err != nil {
		return false, err
	}
	return highest == 0, nil
}

// Serve starts the gRPC (Peer + Client RPC Surfaces) and HTTP health
// listeners. Blocks until ctx is cancelled or a listener fails.
func (n *Node) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.cfg.ServerID(), err)
	}

	n.grpc = grpc.NewServer()
	rpc.RegisterPeerServer(n.grpc, n.manager)
	rpc.RegisterClientServer(n.grpc, n.api)

	errC := make(chan error, 2)
	go func() {
		log.WithComponent("bootstrap").Info().Str("addr", n.cfg.ServerID()).Msg("rpc server listening")
		if err := n.grpc.Serve(lis); err != nil {
			errC <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	if n.cfg.HealthAddr != "" {
		go func() {
			log.WithComponent("bootstrap").Info().Str("addr", n.cfg.HealthAddr).Msg("health server listening")
			if err := n.health.Start(n.cfg.HealthAddr); err != nil {
				errC <- fmt.Errorf("health server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		n.Shutdown()
		return nil
	case err := <-errC:
		n.Shutdown()
		return err
	}
}

// Shutdown tears the node down in reverse dependency order. Idempotent.
func (n *Node) Shutdown() {
	if n.grpc != nil {
		n.grpc.GracefulStop()
	}
	n.api.Close()
	n.manager.Shutdown()
	n.store.Close()
}
