// Package management implements the registry's cluster management API:
// add-learner/change-membership/init wrapping raft.AddNonvoter/
// raft.AddVoter/raft.BootstrapCluster, ping/ready reading raft.Raft.State()
// and AppliedIndex(), a metrics endpoint serving both a JSON leader-discovery
// summary and a prometheus/client_golang scrape target, and the
// /internal/v1/forward sidecar internal/router.Router's forward calls POST
// to.
package management

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/raft"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"brain2-backend/internal/raftnode"
	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/router"
	"brain2-backend/internal/statemachine"
)

// ManagementCodeHeader carries the shared secret every management endpoint
// requires, except /internal/v1/forward (inter-node traffic authenticated
// by network placement rather than a header) and the /ping and /ready
// probes.
const ManagementCodeHeader = "x-management-code"

const joinTimeout = 10 * time.Second

// Server serves the cluster management API over a running raft node and
// request router.
type Server struct {
	Node           *raftnode.Node
	Router         *router.Router
	Logger         *zap.Logger
	ManagementCode string

	registry     *prometheus.Registry
	requestTotal *prometheus.CounterVec
}

// NewServer builds a Server and registers its Prometheus gauges/counters.
func NewServer(node *raftnode.Node, r *router.Router, logger *zap.Logger, managementCode string) *Server {
	s := &Server{Node: node, Router: r, Logger: logger, ManagementCode: managementCode}

	s.registry = prometheus.NewRegistry()
	s.requestTotal = promauto.With(s.registry).NewCounterVec(prometheus.CounterOpts{
		Name: "registry_management_requests_total",
		Help: "Cluster management requests served by this node, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	promauto.With(s.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "registry_raft_is_leader",
		Help: "1 if this node currently holds Raft leadership.",
	}, func() float64 {
		if node.IsLeader() {
			return 1
		}
		return 0
	})
	promauto.With(s.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "registry_raft_applied_index",
		Help: "This node's locally applied Raft log index.",
	}, func() float64 { return float64(node.AppliedIndex()) })
	promauto.With(s.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "registry_raft_term",
		Help: "This node's current Raft term.",
	}, func() float64 { return parseStatFloat(node.Raft.Stats(), "term") })

	return s
}

// Mount attaches every management endpoint and the inter-node forward
// sidecar to r.
func (s *Server) Mount(r chi.Router) {
	r.Post("/add-learner", s.authenticated(s.addLearner))
	r.Post("/change-membership", s.authenticated(s.changeMembership))
	r.Post("/init", s.authenticated(s.initCluster))
	r.Get("/metrics", s.authenticated(s.metricsJSON))
	r.Get("/metrics/prom", s.authenticated(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP))
	r.Get("/ping", s.ping)
	r.Get("/ready", s.ready)

	r.Post(router.ForwardPath, s.forward)
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ManagementCode != "" && r.Header.Get(ManagementCodeHeader) != s.ManagementCode {
			s.requestTotal.WithLabelValues(r.URL.Path, "unauthorized").Inc()
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid management code"})
			return
		}
		next(w, r)
	}
}

type joinRequest struct {
	NodeID string `json:"nodeId"`
	Addr   string `json:"addr"`
}

// addLearner wraps raft.AddNonvoter, adding a node as a non-voting member
// that catches up before being promoted.
func (s *Server) addLearner(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, "add-learner", registryerr.BadRequestf("invalid request body: %v", err))
		return
	}
	if err := s.Node.AddNonvoter(req.NodeID, req.Addr, joinTimeout); err != nil {
		s.fail(w, r, "add-learner", registryerr.Internal("add learner failed", err))
		return
	}
	s.requestTotal.WithLabelValues("add-learner", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// changeMembership wraps raft.AddVoter, promoting an existing learner (or
// adding directly) to full voting membership.
func (s *Server) changeMembership(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, "change-membership", registryerr.BadRequestf("invalid request body: %v", err))
		return
	}
	if err := s.Node.AddVoter(req.NodeID, req.Addr, joinTimeout); err != nil {
		s.fail(w, r, "change-membership", registryerr.Internal("change membership failed", err))
		return
	}
	s.requestTotal.WithLabelValues("change-membership", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initRequest struct {
	Servers []joinRequest `json:"servers"`
}

// initCluster wraps raft.BootstrapCluster, called once by the first node of
// a new cluster.
func (s *Server) initCluster(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, "init", registryerr.BadRequestf("invalid request body: %v", err))
		return
	}
	servers := make([]raft.Server, len(req.Servers))
	for i, srv := range req.Servers {
		servers[i] = raft.Server{ID: raft.ServerID(srv.NodeID), Address: raft.ServerAddress(srv.Addr)}
	}
	if err := s.Node.Bootstrap(servers); err != nil {
		s.fail(w, r, "init", registryerr.Internal("bootstrap failed", err))
		return
	}
	s.requestTotal.WithLabelValues("init", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ping is a bare liveness probe: any running process answers 200.
func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready requires running state, a known leader, and a non-empty applied
// log, else 503 with Retry-After.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	_, leaderKnown := s.Node.LeaderAddress()
	if s.Node.Raft.State() == raft.Shutdown || !leaderKnown || s.Node.AppliedIndex() == 0 {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// metricsJSON is the leader-discovery summary joining nodes poll: leader
// address, term, applied index, and the current peer list.
func (s *Server) metricsJSON(w http.ResponseWriter, r *http.Request) {
	leaderAddr, leaderKnown := s.Node.LeaderAddress()
	stats := s.Node.Raft.Stats()

	var peers []string
	for _, srv := range s.Node.Raft.GetConfiguration().Configuration().Servers {
		peers = append(peers, string(srv.Address))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leaderAddr":   leaderAddr,
		"leaderKnown":  leaderKnown,
		"term":         parseStatUint(stats, "term"),
		"appliedIndex": s.Node.AppliedIndex(),
		"state":        stats["state"],
		"peers":        peers,
	})
}

// forward serves internal/router.ForwardPath: it decodes the forwarded
// statemachine.Request, runs it back through this node's own Router (which
// re-applies the full leader-check/forward decision tree, since cluster
// leadership may have changed since the caller learned this node's
// address), and always replies with a JSON statemachine.Response — using
// HTTP 400 only for the "I'm not the leader either, try this hint" case, and
// 200 for every other outcome including a logical domain error, matching
// internal/router.go's doForward contract.
func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	var req statemachine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statemachine.Response{Err: registryerr.BadRequestf("invalid forwarded request: %v", err)})
		return
	}

	resp := s.Router.Handle(r.Context(), req)

	status := http.StatusOK
	if resp.Err != nil && resp.Err.Kind == registryerr.KindBadRequest && resp.Err.LeaderHint != "" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, endpoint string, err *registryerr.Error) {
	s.requestTotal.WithLabelValues(endpoint, "error").Inc()
	writeJSON(w, registryerr.ToHTTPStatus(err), map[string]string{"error": string(err.Kind), "message": err.Message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseStatUint(stats map[string]string, key string) uint64 {
	v, _ := strconv.ParseUint(stats[key], 10, 64)
	return v
}

func parseStatFloat(stats map[string]string, key string) float64 {
	v, _ := strconv.ParseFloat(stats[key], 64)
	return v
}
