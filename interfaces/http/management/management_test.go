package management

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brain2-backend/internal/graph"
	"brain2-backend/internal/raftnode"
	"brain2-backend/internal/rbac"
	"brain2-backend/internal/router"
	"brain2-backend/internal/search"
	"brain2-backend/internal/statemachine"
	"brain2-backend/internal/storage"
)

// newSingleNodeCluster builds a real, bootstrapped single-node raft.Raft
// over in-memory stores and an in-memory transport — no disk, no sockets —
// matching how hashicorp/raft's own test suite exercises a live cluster.
func newSingleNodeCluster(t *testing.T) *raftnode.Node {
	t.Helper()

	idx, err := search.New()
	require.NoError(t, err)
	machine := statemachine.New(graph.New(), idx, rbac.New(), storage.Noop{})
	fsm := raftnode.NewFSM(machine)

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID("node1")
	cfg.HeartbeatTimeout = 50 * time.Millisecond
	cfg.ElectionTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 50 * time.Millisecond
	cfg.CommitTimeout = 5 * time.Millisecond

	_, transport := raft.NewInmemTransport("node1")
	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()
	snapshotStore := raft.NewInmemSnapshotStore()

	r, err := raft.NewRaft(cfg, fsm, logStore, stableStore, snapshotStore, transport)
	require.NoError(t, err)

	require.NoError(t, r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: cfg.LocalID, Address: transport.LocalAddr()}},
	}).Error())

	node := &raftnode.Node{Raft: r, FSM: fsm}

	require.Eventually(t, node.IsLeader, 2*time.Second, 10*time.Millisecond, "single node should elect itself leader")
	return node
}

func newTestManagementServer(t *testing.T, code string) *httptest.Server {
	node := newSingleNodeCluster(t)
	r := router.New(node, node.FSM.Machine)
	s := NewServer(node, r, zap.NewNop(), code)

	mux := chi.NewRouter()
	s.Mount(mux)
	return httptest.NewServer(mux)
}

func TestPingAlwaysSucceeds(t *testing.T) {
	srv := newTestManagementServer(t, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyBecomesReadyAfterElection(t *testing.T) {
	srv := newTestManagementServer(t, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestManagementEndpointsRejectWrongCode(t *testing.T) {
	srv := newTestManagementServer(t, "secret")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/add-learner", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAddLearnerWithCorrectCodeSucceeds(t *testing.T) {
	srv := newTestManagementServer(t, "secret")
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"nodeId": "node2", "addr": "127.0.0.1:0"})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/add-learner", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(ManagementCodeHeader, "secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestForwardAppliesRequestAndRepliesJSON(t *testing.T) {
	srv := newTestManagementServer(t, "")
	defer srv.Close()

	body, _ := json.Marshal(statemachine.Request{
		Op:         statemachine.OpCreateProject,
		Credential: rbac.DisabledCredential,
		Create:     &statemachine.CreateRequest{Name: "fraud"},
	})
	resp, err := http.Post(srv.URL+router.ForwardPath, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var smResp statemachine.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&smResp))
	require.Nil(t, smResp.Err)
	require.Equal(t, "fraud", smResp.Entity.Name)
}

func TestMetricsJSONReportsLeaderState(t *testing.T) {
	srv := newTestManagementServer(t, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, true, body["leaderKnown"])
}

func TestMetricsPromServesPrometheusFormat(t *testing.T) {
	srv := newTestManagementServer(t, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics/prom")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
