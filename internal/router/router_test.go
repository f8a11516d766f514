package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain2-backend/domain"
	"brain2-backend/internal/graph"
	"brain2-backend/internal/rbac"
	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/search"
	"brain2-backend/internal/statemachine"
	"brain2-backend/internal/storage"
)

// fakeNode is a test double for RaftNode: no real raft.Raft instance, just
// the leadership/applied-index view the router's decision tree consults.
type fakeNode struct {
	leader      bool
	leaderAddr  string
	leaderKnown bool
	applied     uint64
	applyFn     func(req statemachine.Request, timeout time.Duration) (statemachine.Response, error)
}

func (n *fakeNode) IsLeader() bool { return n.leader }
func (n *fakeNode) LeaderAddress() (string, bool) {
	return n.leaderAddr, n.leaderKnown
}
func (n *fakeNode) AppliedIndex() uint64 { return n.applied }
func (n *fakeNode) Apply(req statemachine.Request, timeout time.Duration) (statemachine.Response, error) {
	if n.applyFn != nil {
		return n.applyFn(req, timeout)
	}
	return statemachine.Response{}, nil
}

func newMachine(t *testing.T) *statemachine.Machine {
	idx, err := search.New()
	require.NoError(t, err)
	return statemachine.New(graph.New(), idx, rbac.New(), storage.Noop{})
}

func TestHandleWriteOnLeaderAppliesThroughRaft(t *testing.T) {
	m := newMachine(t)
	node := &fakeNode{leader: true, applied: 5, applyFn: func(req statemachine.Request, timeout time.Duration) (statemachine.Response, error) {
		return m.Apply(context.Background(), req), nil
	}}
	r := New(node, m)

	resp := r.Handle(context.Background(), statemachine.Request{
		Op:         statemachine.OpCreateProject,
		Credential: rbac.DisabledCredential,
		Create:     &statemachine.CreateRequest{Name: "fraud"},
	})

	require.Nil(t, resp.Err)
	assert.Equal(t, "fraud", resp.Entity.Name)
}

func TestHandleWriteOnFollowerReturnsBadRequestWithLeaderHint(t *testing.T) {
	m := newMachine(t)
	node := &fakeNode{leader: false, leaderAddr: "10.0.0.2:8300", leaderKnown: true}
	r := New(node, m)

	resp := r.Handle(context.Background(), statemachine.Request{
		Op:         statemachine.OpCreateProject,
		Credential: rbac.DisabledCredential,
		Create:     &statemachine.CreateRequest{Name: "fraud"},
	})

	require.NotNil(t, resp.Err)
	assert.Equal(t, registryerr.KindBadRequest, resp.Err.Kind)
	assert.Equal(t, "10.0.0.2:8300", resp.Err.LeaderHint)
}

func TestHandleReadOnLeaderServesLocally(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()
	m.Apply(ctx, statemachine.Request{
		Op: statemachine.OpCreateProject, Credential: rbac.DisabledCredential,
		Create: &statemachine.CreateRequest{Name: "fraud"},
	})
	node := &fakeNode{leader: true, applied: 1}
	r := New(node, m)

	resp := r.Handle(ctx, statemachine.Request{
		Op: statemachine.OpList, Credential: rbac.DisabledCredential, EntityType: domain.EntityTypeProject,
	})

	require.Nil(t, resp.Err)
	assert.Len(t, resp.Entities, 1)
}

func TestHandleReadOnFollowerWithSatisfiedOptSeqServesLocally(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()
	m.Apply(ctx, statemachine.Request{
		Op: statemachine.OpCreateProject, Credential: rbac.DisabledCredential,
		Create: &statemachine.CreateRequest{Name: "fraud"},
	})
	node := &fakeNode{leader: false, applied: 3}
	r := New(node, m)

	seq := uint64(2)
	resp := r.Handle(ctx, statemachine.Request{
		Op: statemachine.OpList, Credential: rbac.DisabledCredential, OptSeq: &seq, EntityType: domain.EntityTypeProject,
	})

	require.Nil(t, resp.Err)
	assert.Len(t, resp.Entities, 1)
}

func TestHandleReadOnFollowerWithoutOptSeqForwardsToLeader(t *testing.T) {
	leaderMachine := newMachine(t)
	leaderMachine.Apply(context.Background(), statemachine.Request{
		Op: statemachine.OpCreateProject, Credential: rbac.DisabledCredential,
		Create: &statemachine.CreateRequest{Name: "fraud"},
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var sreq statemachine.Request
		require.NoError(t, json.NewDecoder(req.Body).Decode(&sreq))
		resp := leaderMachine.Apply(req.Context(), sreq)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	m := newMachine(t)
	node := &fakeNode{leader: false, leaderAddr: server.Listener.Addr().String(), leaderKnown: true, applied: 0}
	r := New(node, m)

	resp := r.Handle(context.Background(), statemachine.Request{
		Op: statemachine.OpList, Credential: rbac.DisabledCredential, EntityType: domain.EntityTypeProject,
	})

	require.Nil(t, resp.Err)
	assert.Len(t, resp.Entities, 1)
}

func TestForwardRefreshesLeaderHintOnRetry(t *testing.T) {
	calls := 0
	stale := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(statemachine.Response{
			Err: registryerr.BadRequestWithLeader("replacement-addr-placeholder"),
		})
	}))
	defer stale.Close()

	m := newMachine(t)
	node := &fakeNode{leader: false, leaderAddr: stale.Listener.Addr().String(), leaderKnown: true}
	r := New(node, m)

	resp := r.Handle(context.Background(), statemachine.Request{
		Op: statemachine.OpList, Credential: rbac.DisabledCredential,
	})

	require.NotNil(t, resp.Err)
	assert.Equal(t, registryerr.KindUnavailable, resp.Err.Kind)
	assert.Equal(t, 1, calls, "an unreachable leader hint should end the retries after the one answered hop rather than loop")
}

func TestForwardFailsUnavailableWhenNoLeaderKnown(t *testing.T) {
	m := newMachine(t)
	node := &fakeNode{leader: false, leaderKnown: false}
	r := New(node, m)

	resp := r.Handle(context.Background(), statemachine.Request{
		Op: statemachine.OpList, Credential: rbac.DisabledCredential,
	})

	require.NotNil(t, resp.Err)
	assert.Equal(t, registryerr.KindUnavailable, resp.Err.Kind)
}
