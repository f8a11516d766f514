// Package raftnode wires internal/statemachine into hashicorp/raft: the
// raft.FSM adapter, log/stable/snapshot storage, and the TCP transport,
// grounded on the dependency pairing (hashicorp/raft + raft-boltdb/v2) two
// independent pack repos (other_examples/manifests/otoolep-hraftd and
// .../cuemby-warren) both reach for, and on the apply/snapshot/restore shape
// of original_source/registry/raft-registry/src/app.rs and store/mod.rs.
package raftnode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hashicorp/raft"

	"brain2-backend/domain"
	"brain2-backend/internal/graph"
	"brain2-backend/internal/rbac"
	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/search"
	"brain2-backend/internal/statemachine"
	"brain2-backend/internal/storage"
)

// FSM adapts *statemachine.Machine to raft.FSM. Every write request is
// serialized once into a raft.Log entry by the router; Apply is the only
// place that entry gets deserialized and run.
type FSM struct {
	Machine *statemachine.Machine
}

// NewFSM wraps an already-constructed state machine.
func NewFSM(m *statemachine.Machine) *FSM {
	return &FSM{Machine: m}
}

// Apply deserializes log's Request and runs it against the state machine.
// The returned value is handed back in-process via raft.ApplyFuture.Response
// and is never itself reserialized, so statemachine.Response's Entity field
// (an interface{}-typed Attributes) keeps its concrete type across this call.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var req statemachine.Request
	if err := json.Unmarshal(log.Data, &req); err != nil {
		return statemachine.Response{Err: registryerr.Internal("decode raft log entry", err)}
	}
	resp := f.Machine.Apply(context.Background(), req)
	resp.AppliedIndex = log.Index
	return resp
}

// snapshotData is the wire shape of a full state-machine snapshot: the
// entity set (each entry pre-encoded through storage.EncodeEntity so
// type-discriminated Attributes survive the round trip), the live edge set,
// and the RBAC grant table.
type snapshotData struct {
	Entities [][]byte          `json:"entities"`
	Edges    []domain.Edge     `json:"edges"`
	Grants   []rbac.GrantEntry `json:"grants"`
}

// Snapshot serializes the entire state machine: graph, tombstone set
// (implicit — tombstoned entities are simply absent), and RBAC map.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	entities := f.Machine.Graph.AllEntities()
	encoded := make([][]byte, 0, len(entities))
	for _, e := range entities {
		data, err := storage.EncodeEntity(e)
		if err != nil {
			return nil, fmt.Errorf("raftnode: encode entity for snapshot: %w", err)
		}
		encoded = append(encoded, data)
	}
	return &fsmSnapshot{
		data: snapshotData{
			Entities: encoded,
			Edges:    f.Machine.Graph.AllEdges(),
			Grants:   f.Machine.RBAC.Snapshot(),
		},
	}, nil
}

// Restore replaces the state machine wholesale from a prior Snapshot.
// Entities are sorted by (qualified name, version) before reinsertion so
// the graph store's dense next-version computation reproduces the versions
// they held when snapshotted, the same ordering applyBatchLoad relies on.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshotData
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("raftnode: decode snapshot: %w", err)
	}

	entities := make([]domain.Entity, 0, len(snap.Entities))
	for _, data := range snap.Entities {
		e, err := storage.DecodeEntity(data)
		if err != nil {
			return fmt.Errorf("raftnode: decode snapshotted entity: %w", err)
		}
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].QualifiedName != entities[j].QualifiedName {
			return entities[i].QualifiedName < entities[j].QualifiedName
		}
		return entities[i].Version < entities[j].Version
	})

	newGraph := graph.New()
	for _, e := range entities {
		if _, err := newGraph.InsertEntity(e); err != nil {
			return fmt.Errorf("raftnode: restore entity: %w", err)
		}
	}
	for _, edge := range snap.Edges {
		if err := newGraph.Connect(edge.From, edge.To, edge.Type); err != nil {
			return fmt.Errorf("raftnode: restore edge: %w", err)
		}
	}

	newRBAC := rbac.New()
	newRBAC.Restore(snap.Grants)

	// A fresh index, not the machine's existing one, so documents from
	// whatever state this node held before the install-snapshot don't
	// linger alongside the restored set.
	newSearch, err := search.New()
	if err != nil {
		return fmt.Errorf("raftnode: build search index for restore: %w", err)
	}
	if err := newSearch.Enable(false); err != nil {
		return fmt.Errorf("raftnode: disable search during restore: %w", err)
	}
	for _, e := range entities {
		if err := newSearch.AddDoc(e, newGraph.Scopes(e.ID)); err != nil {
			return fmt.Errorf("raftnode: reindex restored entity: %w", err)
		}
	}
	if err := newSearch.Enable(true); err != nil {
		return fmt.Errorf("raftnode: enable search after restore: %w", err)
	}

	f.Machine.Graph = newGraph
	f.Machine.RBAC = newRBAC
	f.Machine.Search = newSearch
	return nil
}

type fsmSnapshot struct {
	data snapshotData
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(s.data)
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("raftnode: marshal snapshot: %w", err)
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return fmt.Errorf("raftnode: write snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
