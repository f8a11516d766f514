// Package graph implements the registry's in-memory directed multigraph: an
// arena of entities plus edge adjacency lists, generalized from a
// single-user node/edge aggregate to a multi-type entity graph governed by
// the legal-edge table.
package graph

import (
	"sort"
	"strings"
	"sync"

	"brain2-backend/domain"
	"brain2-backend/internal/registryerr"
)

type versionIndex struct {
	// ordered by version ascending; version N lives at index N-1 because
	// versions are dense starting at 1 (invariant 7).
	ids []domain.ID
}

func (v *versionIndex) latest() (domain.ID, bool) {
	if len(v.ids) == 0 {
		return domain.ID{}, false
	}
	return v.ids[len(v.ids)-1], true
}

func (v *versionIndex) at(version int64) (domain.ID, bool) {
	if version < 1 || version > int64(len(v.ids)) {
		return domain.ID{}, false
	}
	return v.ids[version-1], true
}

// Store is the registry's in-memory graph. All operations are safe for
// concurrent use; writers take the exclusive lock, readers share it.
type Store struct {
	mu sync.RWMutex

	entities map[domain.ID]*domain.Entity
	byQName  map[string]*versionIndex

	// out[id][edgeType] = ordered list of target ids (insertion order).
	out map[domain.ID]map[domain.EdgeType][]domain.ID

	// projects, in insertion order, for deterministic entry-point listing.
	projects []domain.ID
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		entities: make(map[domain.ID]*domain.Entity),
		byQName:  make(map[string]*versionIndex),
		out:      make(map[domain.ID]map[domain.EdgeType][]domain.ID),
	}
}

// InsertEntity assigns the next version for QualifiedName, stamps it onto a
// copy of e, and indexes it. The caller supplies e.ID (InsertEntity does not
// generate ids); an id that is already present fails with a Conflict error.
func (s *Store) InsertEntity(e domain.Entity) (domain.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[e.ID]; exists {
		return domain.ID{}, registryerr.Conflictf("entity id already exists")
	}

	idx, ok := s.byQName[e.QualifiedName]
	nextVersion := int64(1)
	if ok {
		nextVersion = int64(len(idx.ids)) + 1
		if last, ok := idx.latest(); ok {
			if s.entities[last].Version+1 != nextVersion {
				return domain.ID{}, registryerr.Internal("version index corrupted", nil)
			}
		}
	} else {
		idx = &versionIndex{}
		s.byQName[e.QualifiedName] = idx
	}

	e.Version = nextVersion
	s.entities[e.ID] = &e
	idx.ids = append(idx.ids, e.ID)
	s.out[e.ID] = make(map[domain.EdgeType][]domain.ID)

	if e.Type == domain.EntityTypeProject {
		s.projects = append(s.projects, e.ID)
	}

	return e.ID, nil
}

// Connect validates the endpoints and edge shape, then creates the edge and
// its reflection atomically. A duplicate triple is a no-op.
func (s *Store) Connect(from, to domain.ID, t domain.EdgeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fe, ok := s.entities[from]
	if !ok || fe.Tombstoned {
		return registryerr.NotFoundf("connect: source entity not found")
	}
	te, ok := s.entities[to]
	if !ok || te.Tombstoned {
		return registryerr.NotFoundf("connect: target entity not found")
	}
	if !domain.IsLegalEdge(fe.Type, te.Type, t) {
		return registryerr.BadRequestf("illegal edge shape %s -[%s]-> %s", fe.Type, t, te.Type)
	}

	if s.hasEdgeLocked(from, to, t) {
		return nil
	}

	s.addEdgeLocked(from, to, t)
	s.addEdgeLocked(to, from, domain.Reflect(t))
	return nil
}

func (s *Store) hasEdgeLocked(from, to domain.ID, t domain.EdgeType) bool {
	for _, id := range s.out[from][t] {
		if id == to {
			return true
		}
	}
	return false
}

func (s *Store) addEdgeLocked(from, to domain.ID, t domain.EdgeType) {
	if s.out[from] == nil {
		s.out[from] = make(map[domain.EdgeType][]domain.ID)
	}
	s.out[from][t] = append(s.out[from][t], to)
}

func (s *Store) removeEdgeLocked(from, to domain.ID, t domain.EdgeType) {
	list := s.out[from][t]
	for i, id := range list {
		if id == to {
			s.out[from][t] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// IncidentEdges returns every stored edge with id as its From endpoint,
// forward edges and reflections alike, for callers
// that need to unwind an entity's edges elsewhere (e.g. a storage adapter)
// before it is deleted.
func (s *Store) IncidentEdges(id domain.ID) []domain.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Edge
	for edgeType, targets := range s.out[id] {
		for _, target := range targets {
			out = append(out, domain.Edge{From: id, To: target, Type: edgeType})
		}
	}
	return out
}

// DeleteEntity fails with InUse if id has any outgoing Contains or Produces
// edge (invariant 8); otherwise removes all incident edges and their
// reflections and tombstones the entity. The tombstoned entity stays in the
// qualified-name version index and the project list; lookups skip it.
func (s *Store) DeleteEntity(id domain.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok || e.Tombstoned {
		return registryerr.NotFoundf("entity not found")
	}

	if len(s.out[id][domain.EdgeContains]) > 0 || len(s.out[id][domain.EdgeProduces]) > 0 {
		return registryerr.InUsef("entity has dependent downstream edges")
	}

	for edgeType, targets := range s.out[id] {
		for _, target := range append([]domain.ID(nil), targets...) {
			s.removeEdgeLocked(id, target, edgeType)
			s.removeEdgeLocked(target, id, domain.Reflect(edgeType))
		}
	}
	delete(s.out, id)

	e.Tombstoned = true
	return nil
}

// Neighbors returns the outgoing, non-tombstoned targets of id along edge
// type t.
func (s *Store) Neighbors(id domain.ID, t domain.EdgeType) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.neighborsLocked(id, t)
}

func (s *Store) neighborsLocked(id domain.ID, t domain.EdgeType) []domain.Entity {
	var out []domain.Entity
	for _, targetID := range s.out[id][t] {
		if e, ok := s.entities[targetID]; ok && !e.Tombstoned {
			out = append(out, *e)
		}
	}
	return out
}

// BFS performs a breadth-first traversal from id following only edges of
// type t, visiting at most limit entities (the seed included). Traversal
// order is deterministic by edge insertion order.
func (s *Store) BFS(id domain.ID, t domain.EdgeType, limit int) ([]domain.Entity, []domain.Edge) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bfsLocked(id, t, limit)
}

func (s *Store) bfsLocked(id domain.ID, t domain.EdgeType, limit int) ([]domain.Entity, []domain.Edge) {
	seed, ok := s.entities[id]
	if !ok || seed.Tombstoned {
		return nil, nil
	}

	visited := map[domain.ID]bool{id: true}
	entities := []domain.Entity{*seed}
	var edges []domain.Edge
	queue := []domain.ID{id}

	for len(queue) > 0 && (limit <= 0 || len(entities) < limit) {
		current := queue[0]
		queue = queue[1:]

		for _, targetID := range s.out[current][t] {
			target, ok := s.entities[targetID]
			if !ok || target.Tombstoned {
				continue
			}
			edges = append(edges, domain.Edge{From: current, To: targetID, Type: t})
			if visited[targetID] {
				continue
			}
			visited[targetID] = true
			entities = append(entities, *target)
			queue = append(queue, targetID)
			if limit > 0 && len(entities) >= limit {
				break
			}
		}
	}

	return entities, edges
}

// Lineage is the deduplicated union of BFS(Consumes) and BFS(Produces) from
// id, bounded by limit entities in each direction.
func (s *Store) Lineage(id domain.ID, limit int) ([]domain.Entity, []domain.Edge) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consEnt, consEdge := s.bfsLocked(id, domain.EdgeConsumes, limit)
	prodEnt, prodEdge := s.bfsLocked(id, domain.EdgeProduces, limit)

	seenEntity := map[domain.ID]bool{}
	var entities []domain.Entity
	for _, e := range append(consEnt, prodEnt...) {
		if !seenEntity[e.ID] {
			seenEntity[e.ID] = true
			entities = append(entities, e)
		}
	}

	type edgeKey struct {
		from, to domain.ID
		t        domain.EdgeType
	}
	seenEdge := map[edgeKey]bool{}
	var edges []domain.Edge
	for _, e := range append(consEdge, prodEdge...) {
		k := edgeKey{e.From, e.To, e.Type}
		if !seenEdge[k] {
			seenEdge[k] = true
			edges = append(edges, e)
		}
	}

	return entities, edges
}

// GetProject returns the project identified by idOrName (resolved by id
// first, then by qualified-name lookup) together with the induced subgraph:
// every entity Contains-reachable from it, plus edges among that set and the
// project where at least one endpoint sits under the project.
func (s *Store) GetProject(idOrName string) (domain.Entity, []domain.Entity, []domain.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.resolveProjectLocked(idOrName)
	if !ok {
		return domain.Entity{}, nil, nil, registryerr.NotFoundf("project %q not found", idOrName)
	}

	reachable, _ := s.bfsLocked(project.ID, domain.EdgeContains, 0)
	memberSet := map[domain.ID]bool{}
	members := make([]domain.Entity, 0, len(reachable))
	for _, m := range reachable {
		memberSet[m.ID] = true
		if m.ID != project.ID {
			members = append(members, m)
		}
	}

	var edges []domain.Edge
	seenEdge := map[domain.Edge]bool{}
	for id := range memberSet {
		for edgeType, targets := range s.out[id] {
			for _, target := range targets {
				if !memberSet[target] {
					continue
				}
				e := domain.Edge{From: id, To: target, Type: edgeType}
				if !seenEdge[e] {
					seenEdge[e] = true
					edges = append(edges, e)
				}
			}
		}
	}

	return project, members, edges, nil
}

func (s *Store) resolveProjectLocked(idOrName string) (domain.Entity, bool) {
	var id domain.ID
	if parsed, err := domain.ParseID(idOrName); err == nil {
		id = parsed
		if e, ok := s.entities[id]; ok && !e.Tombstoned && e.Type == domain.EntityTypeProject {
			return *e, true
		}
	}
	name, version := domain.ExtractVersion(idOrName)
	idx, ok := s.byQName[name]
	if !ok {
		return domain.Entity{}, false
	}
	if version != nil {
		id, ok = idx.at(*version)
	} else {
		id, ok = idx.latest()
	}
	if !ok {
		return domain.Entity{}, false
	}
	e, ok := s.entities[id]
	if !ok || e.Tombstoned || e.Type != domain.EntityTypeProject {
		return domain.Entity{}, false
	}
	return *e, true
}

// GetByID returns the live entity with the given id.
func (s *Store) GetByID(id domain.ID) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok || e.Tombstoned {
		return domain.Entity{}, false
	}
	return *e, true
}

// GetVersion returns the exact version of qualifiedName, or its latest
// version when version is nil.
func (s *Store) GetVersion(qualifiedName string, version *int64) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byQName[qualifiedName]
	if !ok {
		return domain.Entity{}, false
	}
	var id domain.ID
	if version != nil {
		id, ok = idx.at(*version)
	} else {
		id, ok = idx.latest()
	}
	if !ok {
		return domain.Entity{}, false
	}
	e, ok := s.entities[id]
	if !ok || e.Tombstoned {
		return domain.Entity{}, false
	}
	return *e, true
}

// ListVersions returns every live version of qualifiedName, oldest first.
func (s *Store) ListVersions(qualifiedName string) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byQName[qualifiedName]
	if !ok {
		return nil
	}
	out := make([]domain.Entity, 0, len(idx.ids))
	for _, id := range idx.ids {
		if e, ok := s.entities[id]; ok && !e.Tombstoned {
			out = append(out, *e)
		}
	}
	return out
}

// ListByType returns every live entity of type t whose qualified name equals
// scopeQName or starts with scopeQName+"__" (pass "" for no scoping), sorted
// by name.
func (s *Store) ListByType(t domain.EntityType, scopeQName string) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Entity
	for _, e := range s.entities {
		if e.Tombstoned || e.Type != t {
			continue
		}
		if scopeQName != "" && !withinScope(e.QualifiedName, scopeQName) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func withinScope(qualifiedName, scopeQName string) bool {
	return qualifiedName == scopeQName || strings.HasPrefix(qualifiedName, scopeQName+"__")
}

// Scopes returns the ids of id's BelongsTo ancestors, used by the search
// index to scope documents to their owning project.
func (s *Store) Scopes(id domain.ID) []domain.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scopes []domain.ID
	current := id
	for i := 0; i < 64; i++ { // guard against any accidental cycle
		parents := s.out[current][domain.EdgeBelongsTo]
		if len(parents) == 0 {
			break
		}
		parent := parents[0]
		scopes = append(scopes, parent)
		current = parent
	}
	return scopes
}

// AllEntities returns every live entity, for search-index batch rebuilds.
func (s *Store) AllEntities() []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if !e.Tombstoned {
			out = append(out, *e)
		}
	}
	return out
}

// AllEdges returns every stored edge among live entities, forward edges and
// their reflections alike, for Raft snapshotting; re-applying them through Connect
// on restore is a no-op thanks to its idempotent duplicate check.
func (s *Store) AllEdges() []domain.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Edge
	for from, byType := range s.out {
		if e, ok := s.entities[from]; !ok || e.Tombstoned {
			continue
		}
		for edgeType, targets := range byType {
			for _, to := range targets {
				if e, ok := s.entities[to]; !ok || e.Tombstoned {
					continue
				}
				out = append(out, domain.Edge{From: from, To: to, Type: edgeType})
			}
		}
	}
	return out
}
