// Package statemachine implements the registry's single applied-request
// type: one tagged Request struct and one tagged Response struct,
// generalized from a per-entity CQRS command/query split (separate
// commands, queries, and a mediator) into one sum type. A Machine owns the
// graph store, search index, RBAC map, and every registered storage
// adapter, and is the only thing internal/raftnode.FSM.Apply calls into.
package statemachine

import (
	"context"
	"reflect"
	"sort"

	"brain2-backend/domain"
	"brain2-backend/internal/graph"
	"brain2-backend/internal/rbac"
	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/search"
	"brain2-backend/internal/storage"
)

// Op discriminates the request shapes a Machine accepts. List/Get/ListVersions
// are parameterized by EntityType rather than duplicated five times each,
// which keeps the switch in Apply to one case per distinct behavior instead
// of one per entity kind — documented as a deliberate deviation from a
// literal one-constant-per-bullet enum in DESIGN.md.
type Op int

const (
	OpUnspecified Op = iota
	OpList
	OpGet
	OpListVersions
	OpCreateProject
	OpCreateSource
	OpCreateAnchor
	OpCreateAnchorFeature
	OpCreateDerivedFeature
	OpDelete
	OpSearch
	OpLineage
	OpGetProjectGraph
	OpBatchLoad
	OpGetEntity
)

// IsWriting classifies op as writing (goes through Raft) or reading (served
// locally, subject to the router's opt_seq check).
func IsWriting(op Op) bool {
	switch op {
	case OpCreateProject, OpCreateSource, OpCreateAnchor, OpCreateAnchorFeature,
		OpCreateDerivedFeature, OpDelete, OpBatchLoad:
		return true
	default:
		return false
	}
}

// CreateRequest is the payload shared by every OpCreate* variant. Which
// fields are meaningful depends on the enclosing Request's Op.
type CreateRequest struct {
	Name        string
	Tags        domain.Tags
	Description string
	CreatedBy   string

	// ParentIDOrName resolves the entity that determines the new entity's
	// qualified name and receives the mandated Contains edge: a Project for
	// Source/Anchor/DerivedFeature, an Anchor for AnchorFeature.
	ParentIDOrName string

	// OpCreateSource
	SourceType    string
	SourceOptions map[string]string

	// OpCreateAnchor
	AnchorSourceIDOrName string

	// OpCreateAnchorFeature / OpCreateDerivedFeature
	FeatureType    domain.FeatureType
	Transformation domain.Transformation
	Keys           []domain.TypedKey

	// OpCreateDerivedFeature
	InputIDOrNames []string
}

// Request is the registry's single applied-request type.
type Request struct {
	Op         Op
	Credential rbac.Credential

	// OptSeq is the caller's read-after-write watermark. The state machine
	// itself ignores it; internal/router reads it to decide whether a
	// follower may serve a read locally or must forward to the leader.
	OptSeq *uint64

	// OpList / OpGet / OpListVersions
	EntityType         domain.EntityType
	ScopeQualifiedName string
	IDOrName           string
	Version            *int64
	Query              string // optional keyword filter for OpList; OpSearch keyword (empty matches everything)

	Create *CreateRequest

	// OpDelete / OpLineage / OpGetEntity
	EntityID string // id or qualified name, resolved the same way as IDOrName

	// OpSearch
	SearchTypes []domain.EntityType
	Limit       int
	Offset      int

	// OpLineage
	LineageLimit int

	// OpGetProjectGraph
	ProjectIDOrName string

	// OpBatchLoad
	BatchEntities []domain.Entity
	BatchEdges    []domain.Edge
}

// ProjectGraph is OpGetProjectGraph's result shape.
type ProjectGraph struct {
	Project domain.Entity
	Members []domain.Entity
	Edges   []domain.Edge
}

// LineagePair is OpLineage's result shape.
type LineagePair struct {
	Entities []domain.Entity
	Edges    []domain.Edge
}

// Response is the registry's single applied-response type. Exactly the
// fields relevant to the originating Request's Op are populated.
type Response struct {
	Entity       *domain.Entity
	Entities     []domain.Entity
	Names        []string
	Lineage      *LineagePair
	ProjectGraph *ProjectGraph
	AppliedIndex uint64
	Err          *registryerr.Error
}

// checkPermission enforces the data-plane RBAC extension: a credential
// must hold permission on resource, or the request is rejected Forbidden.
// RBAC-disabled mode (DisabledCredential) always passes, preserving the
// original all-allow behavior.
func (m *Machine) checkPermission(credential rbac.Credential, resource rbac.Resource, permission rbac.Permission) error {
	if m.RBAC.Check(credential, resource, permission) {
		return nil
	}
	return registryerr.Forbiddenf("credential lacks %s on resource", permission)
}

func entityResource(id domain.ID) rbac.Resource {
	return rbac.Resource{Kind: rbac.ResourceEntity, Name: id.String()}
}

func errResponse(err error) Response {
	if re, ok := err.(*registryerr.Error); ok {
		return Response{Err: re}
	}
	return Response{Err: registryerr.Internal("state machine error", err)}
}

// Machine owns the graph store (A), search index (B), RBAC map (C), and
// every registered external storage adapter (D), and applies Requests (E).
type Machine struct {
	Graph    *graph.Store
	Search   *search.Index
	RBAC     *rbac.Map
	Adapters []storage.Adapter
}

// New wires a Machine over already-constructed components.
func New(g *graph.Store, s *search.Index, r *rbac.Map, adapters ...storage.Adapter) *Machine {
	return &Machine{Graph: g, Search: s, RBAC: r, Adapters: adapters}
}

// Apply runs req against the machine. Writing requests must only be called
// from the Raft apply path (internal/raftnode.FSM.Apply); reads may be
// called directly by a leader or by a follower whose opt_seq check passed.
func (m *Machine) Apply(ctx context.Context, req Request) Response {
	switch req.Op {
	case OpList:
		return m.applyList(req)
	case OpGet:
		return m.applyGet(req)
	case OpListVersions:
		return m.applyListVersions(req)
	case OpCreateProject, OpCreateSource, OpCreateAnchor, OpCreateAnchorFeature, OpCreateDerivedFeature:
		return m.applyCreate(ctx, req)
	case OpDelete:
		return m.applyDelete(ctx, req)
	case OpSearch:
		return m.applySearch(req)
	case OpLineage:
		return m.applyLineage(req)
	case OpGetProjectGraph:
		return m.applyGetProjectGraph(req)
	case OpBatchLoad:
		return m.applyBatchLoad(ctx, req)
	case OpGetEntity:
		return m.applyGetEntity(req)
	default:
		return errResponse(registryerr.BadRequestf("unknown op %d", req.Op))
	}
}

// resolve turns an id-or-qualified-name string into a live entity, honoring
// an inline ":version" suffix (domain.ExtractVersion) or an explicit
// override version.
func (m *Machine) resolve(idOrName string, version *int64) (domain.Entity, bool) {
	if id, err := domain.ParseID(idOrName); err == nil {
		return m.Graph.GetByID(id)
	}
	name, inline := domain.ExtractVersion(idOrName)
	if version == nil {
		version = inline
	}
	return m.Graph.GetVersion(name, version)
}

func (m *Machine) applyList(req Request) Response {
	if req.Query != "" {
		var scope *domain.ID
		if req.ScopeQualifiedName != "" {
			if e, ok := m.resolve(req.ScopeQualifiedName, nil); ok {
				scope = &e.ID
				if err := m.checkPermission(req.Credential, entityResource(e.ID), rbac.PermissionRead); err != nil {
					return errResponse(err)
				}
			}
		}
		ids, err := m.Search.Search(req.Query, []domain.EntityType{req.EntityType}, scope, 0, 0)
		if err != nil {
			return errResponse(registryerr.Internal("search failed", err))
		}
		entities := make([]domain.Entity, 0, len(ids))
		for _, id := range ids {
			if e, ok := m.Graph.GetByID(id); ok {
				entities = append(entities, e)
			}
		}
		return Response{Entities: entities}
	}
	return Response{Entities: m.Graph.ListByType(req.EntityType, req.ScopeQualifiedName)}
}

func (m *Machine) applyGet(req Request) Response {
	e, ok := m.resolve(req.IDOrName, req.Version)
	if !ok {
		return errResponse(registryerr.NotFoundf("%s %q not found", req.EntityType, req.IDOrName))
	}
	if err := m.checkPermission(req.Credential, entityResource(e.ID), rbac.PermissionRead); err != nil {
		return errResponse(err)
	}
	return Response{Entity: &e}
}

func (m *Machine) applyGetEntity(req Request) Response {
	id, err := domain.ParseID(req.EntityID)
	if err != nil {
		return errResponse(registryerr.BadRequestf("invalid entity id %q", req.EntityID))
	}
	e, ok := m.Graph.GetByID(id)
	if !ok {
		return errResponse(registryerr.NotFoundf("entity %q not found", req.EntityID))
	}
	return Response{Entity: &e}
}

func (m *Machine) applyListVersions(req Request) Response {
	name, _ := domain.ExtractVersion(req.IDOrName)
	versions := m.Graph.ListVersions(name)
	if len(versions) == 0 {
		return errResponse(registryerr.NotFoundf("%q has no versions", name))
	}
	return Response{Entities: versions}
}

func (m *Machine) applySearch(req Request) Response {
	var scope *domain.ID
	if req.ScopeQualifiedName != "" {
		if e, ok := m.resolve(req.ScopeQualifiedName, nil); ok {
			scope = &e.ID
		}
	}
	ids, err := m.Search.Search(req.Query, req.SearchTypes, scope, req.Limit, req.Offset)
	if err != nil {
		return errResponse(registryerr.Internal("search failed", err))
	}
	entities := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.Graph.GetByID(id); ok {
			entities = append(entities, e)
		}
	}
	return Response{Entities: entities}
}

func (m *Machine) applyLineage(req Request) Response {
	e, ok := m.resolve(req.EntityID, nil)
	if !ok {
		return errResponse(registryerr.NotFoundf("entity %q not found", req.EntityID))
	}
	entities, edges := m.Graph.Lineage(e.ID, req.LineageLimit)
	return Response{Lineage: &LineagePair{Entities: entities, Edges: edges}}
}

func (m *Machine) applyGetProjectGraph(req Request) Response {
	project, members, edges, err := m.Graph.GetProject(req.ProjectIDOrName)
	if err != nil {
		return errResponse(err)
	}
	return Response{ProjectGraph: &ProjectGraph{Project: project, Members: members, Edges: edges}}
}

func (m *Machine) applyDelete(ctx context.Context, req Request) Response {
	e, ok := m.resolve(req.EntityID, nil)
	if !ok {
		return errResponse(registryerr.NotFoundf("entity %q not found", req.EntityID))
	}
	if err := m.checkPermission(req.Credential, entityResource(e.ID), rbac.PermissionWrite); err != nil {
		return errResponse(err)
	}
	incident := m.Graph.IncidentEdges(e.ID)
	if err := m.Graph.DeleteEntity(e.ID); err != nil {
		return errResponse(err)
	}
	if err := m.Search.Delete(e.ID); err != nil {
		return errResponse(registryerr.Internal("search delete failed", err))
	}
	if err := m.Search.Commit(); err != nil {
		return errResponse(registryerr.Internal("search commit failed", err))
	}
	for _, adapter := range m.Adapters {
		for _, edge := range incident {
			// The edge may have been recorded by the adapter in either
			// direction depending on which endpoint initiated the Connect;
			// Disconnect no-ops on whichever direction isn't present.
			if err := adapter.Disconnect(ctx, edge); err != nil {
				return errResponse(registryerr.Internal("storage adapter disconnect failed", err))
			}
			reflected := domain.Edge{From: edge.To, To: edge.From, Type: domain.Reflect(edge.Type)}
			if err := adapter.Disconnect(ctx, reflected); err != nil {
				return errResponse(registryerr.Internal("storage adapter disconnect failed", err))
			}
		}
		if err := adapter.DeleteEntity(ctx, e.ID); err != nil {
			return errResponse(registryerr.Internal("storage adapter delete failed", err))
		}
	}
	return Response{Entity: &e}
}

// applyCreate dispatches to the per-kind creator, then performs the
// post-insert fan-out common to every create: search indexing and storage
// adapter writes.
func (m *Machine) applyCreate(ctx context.Context, req Request) Response {
	if req.Create == nil {
		return errResponse(registryerr.BadRequestf("missing create payload"))
	}

	var (
		entity      domain.Entity
		edges       []domain.Edge
		idempotent  bool
		creationErr error
	)

	switch req.Op {
	case OpCreateProject:
		entity, idempotent, creationErr = m.createProject(req.Credential, req.Create)
	case OpCreateSource:
		entity, edges, idempotent, creationErr = m.createSource(req.Credential, req.Create)
	case OpCreateAnchor:
		entity, edges, idempotent, creationErr = m.createAnchor(req.Credential, req.Create)
	case OpCreateAnchorFeature:
		entity, edges, idempotent, creationErr = m.createAnchorFeature(req.Credential, req.Create)
	case OpCreateDerivedFeature:
		entity, edges, idempotent, creationErr = m.createDerivedFeature(req.Credential, req.Create)
	}
	if creationErr != nil {
		return errResponse(creationErr)
	}
	if idempotent {
		return Response{Entity: &entity}
	}

	scopes := m.Graph.Scopes(entity.ID)
	if err := m.Search.IndexEntity(entity, scopes); err != nil {
		return errResponse(registryerr.Internal("search index failed", err))
	}
	for _, adapter := range m.Adapters {
		if err := adapter.AddEntity(ctx, entity); err != nil {
			return errResponse(registryerr.Internal("storage adapter add failed", err))
		}
		for _, edge := range edges {
			if err := adapter.Connect(ctx, edge); err != nil {
				return errResponse(registryerr.Internal("storage adapter connect failed", err))
			}
		}
	}
	return Response{Entity: &entity}
}

func (m *Machine) createProject(credential rbac.Credential, c *CreateRequest) (domain.Entity, bool, error) {
	if err := m.checkPermission(credential, rbac.GlobalResource, rbac.PermissionWrite); err != nil {
		return domain.Entity{}, false, err
	}
	if existing := m.Graph.ListVersions(c.Name); len(existing) > 0 {
		latest := existing[len(existing)-1]
		if _, ok := latest.Attributes.(*domain.ProjectAttributes); ok {
			return latest, true, nil
		}
	}
	entity := domain.Entity{
		ID:            domain.NewID(),
		Type:          domain.EntityTypeProject,
		Name:          c.Name,
		QualifiedName: c.Name,
		Tags:          c.Tags,
		Description:   c.Description,
		CreatedBy:     c.CreatedBy,
		Attributes:    &domain.ProjectAttributes{},
	}
	id, err := m.Graph.InsertEntity(entity)
	if err != nil {
		return domain.Entity{}, false, err
	}
	entity.ID = id
	return entity, false, nil
}

func (m *Machine) createSource(credential rbac.Credential, c *CreateRequest) (domain.Entity, []domain.Edge, bool, error) {
	parent, ok := m.resolve(c.ParentIDOrName, nil)
	if !ok {
		return domain.Entity{}, nil, false, registryerr.NotFoundf("parent project %q not found", c.ParentIDOrName)
	}
	if err := m.checkPermission(credential, entityResource(parent.ID), rbac.PermissionWrite); err != nil {
		return domain.Entity{}, nil, false, err
	}
	qualifiedName := domain.QualifiedChildName(parent.QualifiedName, c.Name)
	attrs := &domain.SourceAttributes{SourceType: c.SourceType, Options: c.SourceOptions}

	if existing, ok := m.findIdenticalVersion(qualifiedName, func(e domain.Entity) bool {
		prev, ok := e.Attributes.(*domain.SourceAttributes)
		return ok && reflect.DeepEqual(prev, attrs)
	}); ok {
		return existing, nil, true, nil
	}

	entity := domain.Entity{
		ID:            domain.NewID(),
		Type:          domain.EntityTypeSource,
		Name:          c.Name,
		QualifiedName: qualifiedName,
		Tags:          c.Tags,
		Description:   c.Description,
		CreatedBy:     c.CreatedBy,
		Attributes:    attrs,
	}
	id, err := m.Graph.InsertEntity(entity)
	if err != nil {
		return domain.Entity{}, nil, false, err
	}
	entity.ID = id
	if err := m.Graph.Connect(parent.ID, id, domain.EdgeContains); err != nil {
		return domain.Entity{}, nil, false, err
	}
	return entity, []domain.Edge{{From: parent.ID, To: id, Type: domain.EdgeContains}}, false, nil
}

func (m *Machine) createAnchor(credential rbac.Credential, c *CreateRequest) (domain.Entity, []domain.Edge, bool, error) {
	parent, ok := m.resolve(c.ParentIDOrName, nil)
	if !ok {
		return domain.Entity{}, nil, false, registryerr.NotFoundf("parent project %q not found", c.ParentIDOrName)
	}
	if err := m.checkPermission(credential, entityResource(parent.ID), rbac.PermissionWrite); err != nil {
		return domain.Entity{}, nil, false, err
	}
	source, ok := m.resolve(c.AnchorSourceIDOrName, nil)
	if !ok {
		return domain.Entity{}, nil, false, registryerr.NotFoundf("source %q not found", c.AnchorSourceIDOrName)
	}
	qualifiedName := domain.QualifiedChildName(parent.QualifiedName, c.Name)

	if existing, ok := m.findIdenticalVersion(qualifiedName, func(e domain.Entity) bool {
		for _, s := range m.Graph.Neighbors(e.ID, domain.EdgeConsumes) {
			if s.ID == source.ID {
				return true
			}
		}
		return false
	}); ok {
		return existing, nil, true, nil
	}

	entity := domain.Entity{
		ID:            domain.NewID(),
		Type:          domain.EntityTypeAnchor,
		Name:          c.Name,
		QualifiedName: qualifiedName,
		Tags:          c.Tags,
		Description:   c.Description,
		CreatedBy:     c.CreatedBy,
		Attributes:    &domain.AnchorAttributes{},
	}
	id, err := m.Graph.InsertEntity(entity)
	if err != nil {
		return domain.Entity{}, nil, false, err
	}
	entity.ID = id
	if err := m.Graph.Connect(parent.ID, id, domain.EdgeContains); err != nil {
		return domain.Entity{}, nil, false, err
	}
	if err := m.Graph.Connect(id, source.ID, domain.EdgeConsumes); err != nil {
		return domain.Entity{}, nil, false, err
	}
	edges := []domain.Edge{
		{From: parent.ID, To: id, Type: domain.EdgeContains},
		{From: id, To: source.ID, Type: domain.EdgeConsumes},
	}
	return entity, edges, false, nil
}

func (m *Machine) createAnchorFeature(credential rbac.Credential, c *CreateRequest) (domain.Entity, []domain.Edge, bool, error) {
	anchor, ok := m.resolve(c.ParentIDOrName, nil)
	if !ok {
		return domain.Entity{}, nil, false, registryerr.NotFoundf("parent anchor %q not found", c.ParentIDOrName)
	}
	if err := m.checkPermission(credential, entityResource(anchor.ID), rbac.PermissionWrite); err != nil {
		return domain.Entity{}, nil, false, err
	}
	qualifiedName := domain.QualifiedChildName(anchor.QualifiedName, c.Name)
	attrs := &domain.AnchorFeatureAttributes{FeatureType: c.FeatureType, Transformation: c.Transformation, Keys: c.Keys}

	sources := m.Graph.Neighbors(anchor.ID, domain.EdgeConsumes)
	if hasDummyKey(c.Keys) && !anyPassthrough(sources) {
		return domain.Entity{}, nil, false, registryerr.BadRequestf(
			"feature %q uses the %s key but anchor %q does not consume a %s source",
			c.Name, domain.DummyKey, anchor.Name, domain.PassthroughSourceName)
	}

	if existing, ok := m.findIdenticalVersion(qualifiedName, func(e domain.Entity) bool {
		prev, ok := e.Attributes.(*domain.AnchorFeatureAttributes)
		return ok && reflect.DeepEqual(prev, attrs)
	}); ok {
		return existing, nil, true, nil
	}

	entity := domain.Entity{
		ID:            domain.NewID(),
		Type:          domain.EntityTypeAnchorFeature,
		Name:          c.Name,
		QualifiedName: qualifiedName,
		Tags:          c.Tags,
		Description:   c.Description,
		CreatedBy:     c.CreatedBy,
		Attributes:    attrs,
	}
	id, err := m.Graph.InsertEntity(entity)
	if err != nil {
		return domain.Entity{}, nil, false, err
	}
	entity.ID = id
	if err := m.Graph.Connect(anchor.ID, id, domain.EdgeContains); err != nil {
		return domain.Entity{}, nil, false, err
	}
	edges := []domain.Edge{{From: anchor.ID, To: id, Type: domain.EdgeContains}}
	for _, source := range sources {
		if err := m.Graph.Connect(id, source.ID, domain.EdgeConsumes); err != nil {
			return domain.Entity{}, nil, false, err
		}
		edges = append(edges, domain.Edge{From: id, To: source.ID, Type: domain.EdgeConsumes})
	}
	return entity, edges, false, nil
}

func hasDummyKey(keys []domain.TypedKey) bool {
	for _, k := range keys {
		if k.Column == domain.DummyKey {
			return true
		}
	}
	return false
}

func anyPassthrough(sources []domain.Entity) bool {
	for _, s := range sources {
		if attrs, ok := s.Attributes.(*domain.SourceAttributes); ok && attrs.SourceType == domain.PassthroughSourceName {
			return true
		}
	}
	return false
}

func (m *Machine) createDerivedFeature(credential rbac.Credential, c *CreateRequest) (domain.Entity, []domain.Edge, bool, error) {
	parent, ok := m.resolve(c.ParentIDOrName, nil)
	if !ok {
		return domain.Entity{}, nil, false, registryerr.NotFoundf("parent project %q not found", c.ParentIDOrName)
	}
	if err := m.checkPermission(credential, entityResource(parent.ID), rbac.PermissionWrite); err != nil {
		return domain.Entity{}, nil, false, err
	}

	inputs := make([]domain.Entity, 0, len(c.InputIDOrNames))
	for _, idOrName := range c.InputIDOrNames {
		in, ok := m.resolve(idOrName, nil)
		if !ok {
			return domain.Entity{}, nil, false, registryerr.NotFoundf("input feature %q not found", idOrName)
		}
		if in.Type != domain.EntityTypeAnchorFeature && in.Type != domain.EntityTypeDerivedFeature {
			return domain.Entity{}, nil, false, registryerr.BadRequestf("input %q is not a feature", idOrName)
		}
		inputs = append(inputs, in)
	}
	inputIDs := make([]domain.ID, len(inputs))
	for i, in := range inputs {
		inputIDs[i] = in.ID
	}

	qualifiedName := domain.QualifiedChildName(parent.QualifiedName, c.Name)
	attrs := &domain.DerivedFeatureAttributes{
		FeatureType:     c.FeatureType,
		Transformation:  c.Transformation,
		Keys:            c.Keys,
		InputFeatureIDs: inputIDs,
	}

	if existing, ok := m.findIdenticalVersion(qualifiedName, func(e domain.Entity) bool {
		prev, ok := e.Attributes.(*domain.DerivedFeatureAttributes)
		return ok && reflect.DeepEqual(prev, attrs)
	}); ok {
		return existing, nil, true, nil
	}

	entity := domain.Entity{
		ID:            domain.NewID(),
		Type:          domain.EntityTypeDerivedFeature,
		Name:          c.Name,
		QualifiedName: qualifiedName,
		Tags:          c.Tags,
		Description:   c.Description,
		CreatedBy:     c.CreatedBy,
		Attributes:    attrs,
	}
	id, err := m.Graph.InsertEntity(entity)
	if err != nil {
		return domain.Entity{}, nil, false, err
	}
	entity.ID = id
	if err := m.Graph.Connect(parent.ID, id, domain.EdgeContains); err != nil {
		return domain.Entity{}, nil, false, err
	}
	edges := []domain.Edge{{From: parent.ID, To: id, Type: domain.EdgeContains}}
	for _, in := range inputs {
		if err := m.Graph.Connect(id, in.ID, domain.EdgeConsumes); err != nil {
			return domain.Entity{}, nil, false, err
		}
		edges = append(edges, domain.Edge{From: id, To: in.ID, Type: domain.EdgeConsumes})
	}
	return entity, edges, false, nil
}

// findIdenticalVersion scans qualifiedName's existing versions for one
// semantically equal to the entity about to be created (per the equal
// function supplied by the caller), implementing create-idempotency: a
// create request identical to an existing version returns that version
// rather than minting a new one.
func (m *Machine) findIdenticalVersion(qualifiedName string, equal func(domain.Entity) bool) (domain.Entity, bool) {
	for _, e := range m.Graph.ListVersions(qualifiedName) {
		if equal(e) {
			return e, true
		}
	}
	return domain.Entity{}, false
}

// applyBatchLoad reinserts every entity and edge handed to it by the
// external storage adapter's LoadAll at startup (FSM.Restore rebuilds its
// own graph and does not go through here). Entities are sorted by (qualified name, version) first so the
// graph store's next-version computation reproduces the version each
// entity already carried on disk.
func (m *Machine) applyBatchLoad(ctx context.Context, req Request) Response {
	entities := append([]domain.Entity(nil), req.BatchEntities...)
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].QualifiedName != entities[j].QualifiedName {
			return entities[i].QualifiedName < entities[j].QualifiedName
		}
		return entities[i].Version < entities[j].Version
	})

	if err := m.Search.Enable(false); err != nil {
		return errResponse(registryerr.Internal("search disable failed", err))
	}

	for _, e := range entities {
		if _, err := m.Graph.InsertEntity(e); err != nil {
			return errResponse(err)
		}
	}
	for _, edge := range req.BatchEdges {
		if err := m.Graph.Connect(edge.From, edge.To, edge.Type); err != nil {
			return errResponse(err)
		}
	}

	for _, e := range m.Graph.AllEntities() {
		if err := m.Search.AddDoc(e, m.Graph.Scopes(e.ID)); err != nil {
			return errResponse(registryerr.Internal("search reindex failed", err))
		}
	}
	if err := m.Search.Enable(true); err != nil {
		return errResponse(registryerr.Internal("search enable failed", err))
	}

	_ = ctx // adapters are the load source during batch load, not a write target
	return Response{}
}
