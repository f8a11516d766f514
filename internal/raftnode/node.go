package raftnode

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"

	"brain2-backend/internal/statemachine"
)

// Config configures one node's Raft participation. Storage contract: log
// files keyed by (InstancePrefix, NodeID) under JournalDir; snapshots are
// files under SnapshotDir.
type Config struct {
	NodeID         string
	BindAddr       string
	AdvertiseAddr  string
	JournalDir     string
	SnapshotDir    string
	SnapshotRetain int
	InstancePrefix string

	HeartbeatTimeout   time.Duration
	ElectionTimeout    time.Duration
	CommitTimeout      time.Duration
	LeaderLeaseTimeout time.Duration
}

// Node owns a running *raft.Raft instance plus the storage handles that
// must be closed alongside it.
type Node struct {
	Raft      *raft.Raft
	FSM       *FSM
	boltStore *raftboltdb.BoltStore
	transport *raft.NetworkTransport
}

// NewNode builds the BoltDB log/stable store, file snapshot store, and TCP
// transport a node needs, and starts a *raft.Raft over fsm.
func NewNode(cfg Config, fsm *FSM) (*Node, error) {
	if cfg.SnapshotRetain <= 0 {
		cfg.SnapshotRetain = 2
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	if cfg.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = cfg.HeartbeatTimeout
	}
	if cfg.ElectionTimeout > 0 {
		raftConfig.ElectionTimeout = cfg.ElectionTimeout
	}
	if cfg.CommitTimeout > 0 {
		raftConfig.CommitTimeout = cfg.CommitTimeout
	}
	if cfg.LeaderLeaseTimeout > 0 {
		raftConfig.LeaderLeaseTimeout = cfg.LeaderLeaseTimeout
	}

	boltPath := filepath.Join(cfg.JournalDir, fmt.Sprintf("%s-%s.bolt", cfg.InstancePrefix, cfg.NodeID))
	boltStore, err := raftboltdb.NewBoltStore(boltPath)
	if err != nil {
		return nil, fmt.Errorf("raftnode: open bolt store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.SnapshotDir, cfg.SnapshotRetain, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftnode: open snapshot store: %w", err)
	}

	advertiseAddr, err := net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
	if err != nil {
		return nil, fmt.Errorf("raftnode: resolve advertise address %q: %w", cfg.AdvertiseAddr, err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, advertiseAddr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftnode: open tcp transport: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, boltStore, boltStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("raftnode: start raft: %w", err)
	}

	return &Node{Raft: r, FSM: fsm, boltStore: boltStore, transport: transport}, nil
}

// Bootstrap initializes a brand-new cluster with servers as its initial
// membership. Call only on the node performing first-time init.
func (n *Node) Bootstrap(servers []raft.Server) error {
	return n.Raft.BootstrapCluster(raft.Configuration{Servers: servers}).Error()
}

// AddVoter adds or promotes id/addr to full voting membership.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
	return n.Raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// AddNonvoter adds id/addr as a non-voting learner, catching up on the log
// before a later AddVoter call promotes it.
func (n *Node) AddNonvoter(id, addr string, timeout time.Duration) error {
	return n.Raft.AddNonvoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// RemoveServer removes id from the cluster's membership entirely.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
	return n.Raft.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}

// IsLeader reports whether this node currently holds Raft leadership.
func (n *Node) IsLeader() bool {
	return n.Raft.State() == raft.Leader
}

// LeaderAddress returns the address of the node this node believes is
// leader, letting clients discover the leader without a side channel.
func (n *Node) LeaderAddress() (string, bool) {
	addr, _ := n.Raft.LeaderWithID()
	return string(addr), addr != ""
}

// AppliedIndex is the local log index applied to the state machine, the
// watermark the request router compares a caller's opt_seq against.
func (n *Node) AppliedIndex() uint64 {
	return n.Raft.AppliedIndex()
}

// Apply submits req through Raft and waits for it to be applied, returning
// the state-machine Response captured by FSM.Apply. Only the leader may
// call this; callers on other nodes must forward instead.
func (n *Node) Apply(req statemachine.Request, timeout time.Duration) (statemachine.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return statemachine.Response{}, fmt.Errorf("raftnode: marshal request: %w", err)
	}
	future := n.Raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return statemachine.Response{}, err
	}
	resp, ok := future.Response().(statemachine.Response)
	if !ok {
		return statemachine.Response{}, fmt.Errorf("raftnode: unexpected apply response type %T", future.Response())
	}
	return resp, nil
}

// Close releases the log/stable store and transport. The snapshot store and
// *raft.Raft itself have no explicit close; callers should call
// n.Raft.Shutdown().Error() first.
func (n *Node) Close() error {
	if err := n.transport.Close(); err != nil {
		return err
	}
	return n.boltStore.Close()
}
