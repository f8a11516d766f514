// Package router implements the registry's request router: the
// leader-check / apply-or-forward / opt_seq decision tree that sits between
// the HTTP layer and internal/statemachine, restructured from a mediator
// pipeline's single dispatch entry point and wrapping forwards in a
// sony/gobreaker.CircuitBreaker per leader address.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/statemachine"
)

// RaftNode is the subset of *raftnode.Node the router depends on. Accepting
// the interface rather than the concrete type lets tests exercise the
// decision tree against a fake cluster view.
type RaftNode interface {
	IsLeader() bool
	LeaderAddress() (string, bool)
	AppliedIndex() uint64
	Apply(req statemachine.Request, timeout time.Duration) (statemachine.Response, error)
}

// maxForwardAttempts bounds retries on forwarded requests.
const maxForwardAttempts = 3

// ForwardPath is the management-sidecar endpoint a forwarded request is
// POSTed to on the target leader (interfaces/http/management serves it).
const ForwardPath = "/internal/v1/forward"

// Router implements the leader-check decision tree: serve locally when
// this node is leader (or when a follower's opt_seq is already satisfied),
// otherwise forward reads to the current leader, and bounce writes back to
// the caller with a leader hint rather than forwarding them itself.
type Router struct {
	Node    RaftNode
	Machine *statemachine.Machine

	httpClient  *http.Client
	applyTimout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds a Router over an already-running raft node and state machine.
func New(node RaftNode, machine *statemachine.Machine) *Router {
	return &Router{
		Node:        node,
		Machine:     machine,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		applyTimout: 10 * time.Second,
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Handle routes req through the decision tree and stamps the node's own
// applied index onto the response so callers can chain reads after writes
// via opt_seq.
func (r *Router) Handle(ctx context.Context, req statemachine.Request) statemachine.Response {
	var resp statemachine.Response

	switch {
	case statemachine.IsWriting(req.Op):
		resp = r.handleWrite(ctx, req)
	case r.Node.IsLeader():
		resp = r.Machine.Apply(ctx, req)
	default:
		resp = r.handleFollowerRead(ctx, req)
	}

	if resp.AppliedIndex == 0 {
		resp.AppliedIndex = r.Node.AppliedIndex()
	}
	return resp
}

// handleWrite implements tree step 1: writes submitted anywhere but the
// leader are rejected with a leader hint rather than forwarded, matching
// scenario 5's "response is BadRequest with a leader hint; retry via the
// leader URL — succeeds."
func (r *Router) handleWrite(ctx context.Context, req statemachine.Request) statemachine.Response {
	if !r.Node.IsLeader() {
		hint, _ := r.Node.LeaderAddress()
		return statemachine.Response{Err: registryerr.BadRequestWithLeader(hint)}
	}
	resp, err := r.Node.Apply(req, r.applyTimout)
	if err != nil {
		return statemachine.Response{Err: registryerr.Unavailablef("apply through raft: %v", err)}
	}
	return resp
}

// handleFollowerRead implements tree step 3: an absent opt_seq always
// forwards for a strong read; a satisfied opt_seq serves locally
// (stale-tolerant); otherwise it forwards.
func (r *Router) handleFollowerRead(ctx context.Context, req statemachine.Request) statemachine.Response {
	if req.OptSeq != nil && r.Node.AppliedIndex() >= *req.OptSeq {
		return r.Machine.Apply(ctx, req)
	}
	return r.forward(ctx, req)
}

// forward sends req to the current leader, retrying up to
// maxForwardAttempts times and refreshing the leader hint whenever a hop
// reports it isn't (or is no longer) the leader.
func (r *Router) forward(ctx context.Context, req statemachine.Request) statemachine.Response {
	leaderAddr, ok := r.Node.LeaderAddress()
	if !ok {
		return statemachine.Response{Err: registryerr.Unavailablef("no known leader")}
	}

	var lastErr error
	for attempt := 0; attempt < maxForwardAttempts; attempt++ {
		resp, err := r.forwardOnce(ctx, leaderAddr, req)
		if err != nil {
			lastErr = err
			break
		}
		if resp.Err != nil && resp.Err.Kind == registryerr.KindBadRequest && resp.Err.LeaderHint != "" {
			leaderAddr = resp.Err.LeaderHint
			lastErr = fmt.Errorf("%s is not leader, retrying %s", leaderAddr, resp.Err.LeaderHint)
			continue
		}
		return resp
	}
	return statemachine.Response{Err: registryerr.Unavailablef("forward to leader: %v", lastErr)}
}

// forwardOnce makes a single forward attempt through the circuit breaker
// registered for addr.
func (r *Router) forwardOnce(ctx context.Context, addr string, req statemachine.Request) (statemachine.Response, error) {
	result, err := r.breakerFor(addr).Execute(func() (interface{}, error) {
		return r.doForward(ctx, addr, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return statemachine.Response{}, fmt.Errorf("circuit open for leader %s: %w", addr, err)
		}
		return statemachine.Response{}, err
	}
	return result.(statemachine.Response), nil
}

// doForward POSTs req to addr's forward endpoint and decodes the response.
// The management sidecar (interfaces/http/management) always replies with
// a JSON-encoded statemachine.Response, even for the BadRequest-with-hint
// case, so the caller can inspect Response.Err directly rather than parsing
// a separate error body shape.
func (r *Router) doForward(ctx context.Context, addr string, req statemachine.Request) (statemachine.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return statemachine.Response{}, fmt.Errorf("marshal forwarded request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+ForwardPath, bytes.NewReader(body))
	if err != nil {
		return statemachine.Response{}, fmt.Errorf("build forward request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return statemachine.Response{}, fmt.Errorf("forward rpc: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusBadRequest {
		data, _ := io.ReadAll(httpResp.Body)
		return statemachine.Response{}, fmt.Errorf("forward rpc status %d: %s", httpResp.StatusCode, string(data))
	}

	var resp statemachine.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return statemachine.Response{}, fmt.Errorf("decode forward response: %w", err)
	}
	return resp, nil
}

// breakerFor returns (creating if needed) the circuit breaker guarding
// forwards to addr, each tripping independently so one partitioned leader
// address doesn't affect calls to another.
func (r *Router) breakerFor(addr string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[addr]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "forward:" + addr,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
	r.breakers[addr] = cb
	return cb
}
