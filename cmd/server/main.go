// Command server runs one registry node: it loads configuration, builds the
// graph/search/RBAC/storage/state-machine/raft stack, joins or bootstraps a
// cluster, and serves the REST and cluster-management HTTP APIs. The
// startup sequence (context setup, signal handling, graceful shutdown) is
// adapted from an HTTP-handler wiring step to a Raft node's
// join-then-serve lifecycle.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/raft"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"brain2-backend/domain"
	cfgpkg "brain2-backend/infrastructure/config"
	"brain2-backend/infrastructure/tracing"
	"brain2-backend/internal/graph"
	"brain2-backend/internal/raftnode"
	"brain2-backend/internal/rbac"
	"brain2-backend/internal/router"
	"brain2-backend/internal/search"
	"brain2-backend/internal/statemachine"
	"brain2-backend/internal/storage"
	"brain2-backend/internal/storage/postgres"
	"brain2-backend/interfaces/http/management"
	"brain2-backend/interfaces/http/rest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cfgpkg.Load()
	if err != nil {
		return err
	}
	bindFlags(cfg)

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEndpoint != "" {
		tp, err := tracing.Init(cfg.InstancePrefix, cfg.Environment, cfg.TracingEndpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tp.Shutdown(shutdownCtx)
		}()
	}

	g := graph.New()
	idx, err := search.New()
	if err != nil {
		return fmt.Errorf("build search index: %w", err)
	}
	rbacMap := rbac.New()

	var adapters []storage.Adapter
	var pgAdapter *postgres.Adapter
	if cfg.ConnectionStr != "" {
		pgAdapter, err = postgres.Open(ctx, postgres.Config{
			ConnectionString: cfg.ConnectionStr,
			EntityTable:      cfg.EntityTable,
			EdgeTable:        cfg.EdgeTable,
		})
		if err != nil {
			return fmt.Errorf("open postgres adapter: %w", err)
		}
		defer pgAdapter.Close()
		if cfg.WriteDB {
			adapters = append(adapters, pgAdapter)
		}
	} else {
		adapters = append(adapters, storage.Noop{})
	}

	machine := statemachine.New(g, idx, rbacMap, adapters...)

	if cfg.LoadDB && pgAdapter != nil {
		if err := loadFromDB(ctx, machine, pgAdapter); err != nil {
			return fmt.Errorf("load from database: %w", err)
		}
		logger.Info("loaded initial state from database")
	}

	node, err := raftnode.NewNode(raftnode.Config{
		NodeID:             cfg.NodeID,
		BindAddr:           cfg.ServerAddr,
		AdvertiseAddr:      advertiseAddr(cfg),
		JournalDir:         cfg.JournalDir,
		SnapshotDir:        cfg.SnapshotDir,
		SnapshotRetain:     cfg.SnapshotRetain,
		InstancePrefix:     cfg.InstancePrefix,
		HeartbeatTimeout:   cfg.HeartbeatTimeout,
		ElectionTimeout:    cfg.ElectionTimeout,
		CommitTimeout:      cfg.CommitTimeout,
		LeaderLeaseTimeout: cfg.LeaderLeaseTimeout,
	}, raftnode.NewFSM(machine))
	if err != nil {
		return fmt.Errorf("start raft node: %w", err)
	}
	defer node.Close()

	r := router.New(node, machine)
	mgmt := management.NewServer(node, r, logger, cfg.ManagementCode)

	if err := join(ctx, cfg, node, mgmt, logger); err != nil {
		return fmt.Errorf("join cluster: %w", err)
	}

	if cfg.ClusterConfigFile != "" {
		watcher, err := cfgpkg.NewWatcher(cfg.ClusterConfigFile, logger)
		if err != nil {
			return fmt.Errorf("start cluster config watcher: %w", err)
		}
		defer watcher.Close()
		watcher.OnChange(func(cf *cfgpkg.ClusterFile) {
			mgmt.ManagementCode = cf.ManagementCode
		})
		mgmt.ManagementCode = watcher.Current().ManagementCode
	}

	compactor := cron.New()
	if _, err := compactor.AddFunc(cfg.CompactionSchedule, func() {
		compact(node, logger)
	}); err != nil {
		return fmt.Errorf("schedule compaction: %w", err)
	}
	compactor.Start()
	defer compactor.Stop()

	handler := buildHandler(r, mgmt, logger)
	srv := &http.Server{Addr: cfg.ExtServerAddr, Handler: handler}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serving registry API", zap.String("addr", cfg.ExtServerAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func bindFlags(cfg *cfgpkg.Config) {
	seeds := flag.String("seeds", strings.Join(cfg.Seeds, ","), "comma-separated seed node addresses")
	learner := flag.Bool("learner", cfg.Learner, "join as a non-voting learner")
	loadDB := flag.Bool("load-db", cfg.LoadDB, "load initial state from the configured database")
	writeDB := flag.Bool("write-db", cfg.WriteDB, "write every mutation through to the configured database")
	noInit := flag.Bool("no-init", cfg.NoInit, "fail rather than bootstrap a single-node cluster when no seed responds")
	flag.Parse()

	if *seeds != "" {
		cfg.Seeds = strings.Split(*seeds, ",")
	}
	cfg.Learner = *learner
	cfg.LoadDB = *loadDB
	cfg.WriteDB = *writeDB
	cfg.NoInit = *noInit
}

func advertiseAddr(cfg *cfgpkg.Config) string {
	if cfg.ExtServerAddr != "" {
		return cfg.ExtServerAddr
	}
	return cfg.ServerAddr
}

func buildHandler(r *router.Router, mgmt *management.Server, logger *zap.Logger) http.Handler {
	mux := chi.NewRouter()
	mgmt.Mount(mux)
	mux.Mount("/", rest.NewHandler(rest.NewServer(r, logger)))
	return mux
}

func loadFromDB(ctx context.Context, machine *statemachine.Machine, adapter *postgres.Adapter) error {
	entityRows, edgeRows, err := adapter.LoadAll(ctx)
	if err != nil {
		return err
	}

	entities := make([]domain.Entity, 0, len(entityRows))
	for _, row := range entityRows {
		e, err := storage.DecodeEntity(row.EntityContent)
		if err != nil {
			return err
		}
		entities = append(entities, e)
	}
	edges := make([]domain.Edge, 0, len(edgeRows))
	for _, row := range edgeRows {
		edges = append(edges, domain.Edge{From: row.FromID, To: row.ToID, Type: row.Type})
	}

	resp := machine.Apply(ctx, statemachine.Request{
		Op:            statemachine.OpBatchLoad,
		BatchEntities: entities,
		BatchEdges:    edges,
	})
	if resp.Err != nil {
		return resp.Err
	}
	return nil
}

// join resolves seed addresses, asks any seed for the current leader, then
// calls add-learner (and change-membership, unless --learner was requested)
// against it — bootstrapping a single-node cluster if no seed answers and
// --no-init wasn't passed. An earlier membership record of this node is not
// removed first; add-learner is called directly.
func join(ctx context.Context, cfg *cfgpkg.Config, node *raftnode.Node, mgmt *management.Server, logger *zap.Logger) error {
	addrs := resolveSeeds(cfg.Seeds)
	leader, ok := discoverLeader(ctx, addrs, cfg.ManagementCode)
	if !ok {
		if cfg.NoInit {
			return fmt.Errorf("no seed reachable and --no-init is set")
		}
		logger.Info("no seed reachable, bootstrapping single-node cluster")
		return node.Bootstrap([]raft.Server{{ID: raft.ServerID(cfg.NodeID), Address: raft.ServerAddress(advertiseAddr(cfg))}})
	}

	logger.Info("discovered cluster leader, joining", zap.String("leader", leader))
	client := &http.Client{Timeout: 10 * time.Second}
	if err := postJoin(ctx, client, leader, "/add-learner", cfg.ManagementCode, cfg.NodeID, advertiseAddr(cfg)); err != nil {
		return err
	}
	if !cfg.Learner {
		if err := postJoin(ctx, client, leader, "/change-membership", cfg.ManagementCode, cfg.NodeID, advertiseAddr(cfg)); err != nil {
			return err
		}
	}
	return nil
}

func resolveSeeds(seeds []string) []string {
	var out []string
	for _, seed := range seeds {
		host, _, err := net.SplitHostPort(seed)
		if err != nil {
			out = append(out, seed)
			continue
		}
		ips, err := net.LookupHost(host)
		if err != nil {
			out = append(out, seed)
			continue
		}
		_, port, _ := net.SplitHostPort(seed)
		for _, ip := range ips {
			out = append(out, net.JoinHostPort(ip, port))
		}
	}
	return out
}

func discoverLeader(ctx context.Context, addrs []string, managementCode string) (string, bool) {
	for _, addr := range addrs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/metrics", nil)
		if err != nil {
			continue
		}
		if managementCode != "" {
			req.Header.Set(management.ManagementCodeHeader, managementCode)
		}
		resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
		if err != nil {
			continue
		}
		var summary struct {
			LeaderAddr  string `json:"leaderAddr"`
			LeaderKnown bool   `json:"leaderKnown"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&summary)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			if decodeErr == nil && summary.LeaderKnown && summary.LeaderAddr != "" {
				return summary.LeaderAddr, true
			}
			return addr, true
		}
	}
	return "", false
}

func postJoin(ctx context.Context, client *http.Client, leader, path, managementCode, nodeID, addr string) error {
	body := fmt.Sprintf(`{"nodeId":%q,"addr":%q}`, nodeID, addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+leader+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if managementCode != "" {
		req.Header.Set(management.ManagementCodeHeader, managementCode)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

// compact triggers a Raft snapshot, letting the log store truncate entries
// older than the new snapshot.
func compact(node *raftnode.Node, logger *zap.Logger) {
	if !node.IsLeader() {
		return
	}
	if err := node.Raft.Snapshot().Error(); err != nil {
		logger.Warn("scheduled snapshot failed", zap.Error(err))
	}
}
