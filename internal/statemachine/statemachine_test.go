package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain2-backend/domain"
	"brain2-backend/internal/graph"
	"brain2-backend/internal/rbac"
	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/search"
	"brain2-backend/internal/storage"
)

func newMachine(t *testing.T) *Machine {
	idx, err := search.New()
	require.NoError(t, err)
	return New(graph.New(), idx, rbac.New(), storage.Noop{})
}

func createProjectReq(name string) Request {
	return Request{
		Op:         OpCreateProject,
		Credential: rbac.DisabledCredential,
		Create:     &CreateRequest{Name: name, CreatedBy: "alice"},
	}
}

func TestCreateProjectThenSourceIsIdempotent(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	resp := m.Apply(ctx, createProjectReq("fraud"))
	require.Nil(t, resp.Err)
	project := *resp.Entity

	createSource := Request{
		Op:         OpCreateSource,
		Credential: rbac.DisabledCredential,
		Create: &CreateRequest{
			Name:           "txn_events",
			ParentIDOrName: project.ID.String(),
			SourceType:     "hdfs",
			SourceOptions:  map[string]string{"path": "/data/txn"},
		},
	}

	first := m.Apply(ctx, createSource)
	require.Nil(t, first.Err)
	second := m.Apply(ctx, createSource)
	require.Nil(t, second.Err)

	assert.Equal(t, first.Entity.ID, second.Entity.ID)
	assert.Equal(t, int64(1), second.Entity.Version)
}

func TestCreateSourceWithDifferentAttributesIsNewVersion(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	project := *m.Apply(ctx, createProjectReq("fraud")).Entity

	base := CreateRequest{
		Name:           "txn_events",
		ParentIDOrName: project.ID.String(),
		SourceType:     "hdfs",
		SourceOptions:  map[string]string{"path": "/data/txn"},
	}
	first := m.Apply(ctx, Request{Op: OpCreateSource, Credential: rbac.DisabledCredential, Create: &base})
	require.Nil(t, first.Err)

	changed := base
	changed.SourceType = "jdbc"
	second := m.Apply(ctx, Request{Op: OpCreateSource, Credential: rbac.DisabledCredential, Create: &changed})
	require.Nil(t, second.Err)

	assert.NotEqual(t, first.Entity.ID, second.Entity.ID)
	assert.Equal(t, int64(2), second.Entity.Version)
}

func TestCreateAnchorConnectsToSource(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	project := *m.Apply(ctx, createProjectReq("fraud")).Entity
	source := *m.Apply(ctx, Request{
		Op:         OpCreateSource,
		Credential: rbac.DisabledCredential,
		Create: &CreateRequest{
			Name: "txn_events", ParentIDOrName: project.ID.String(), SourceType: "hdfs",
		},
	}).Entity

	anchorResp := m.Apply(ctx, Request{
		Op:         OpCreateAnchor,
		Credential: rbac.DisabledCredential,
		Create: &CreateRequest{
			Name: "txn_anchor", ParentIDOrName: project.ID.String(), AnchorSourceIDOrName: source.ID.String(),
		},
	})
	require.Nil(t, anchorResp.Err)

	neighbors := m.Graph.Neighbors(anchorResp.Entity.ID, domain.EdgeConsumes)
	require.Len(t, neighbors, 1)
	assert.Equal(t, source.ID, neighbors[0].ID)
}

func TestDeleteFailsWhenInUse(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	project := *m.Apply(ctx, createProjectReq("fraud")).Entity
	source := *m.Apply(ctx, Request{
		Op:         OpCreateSource,
		Credential: rbac.DisabledCredential,
		Create:     &CreateRequest{Name: "txn_events", ParentIDOrName: project.ID.String(), SourceType: "hdfs"},
	}).Entity
	m.Apply(ctx, Request{
		Op:         OpCreateAnchor,
		Credential: rbac.DisabledCredential,
		Create: &CreateRequest{
			Name: "txn_anchor", ParentIDOrName: project.ID.String(), AnchorSourceIDOrName: source.ID.String(),
		},
	})

	resp := m.Apply(ctx, Request{Op: OpDelete, Credential: rbac.DisabledCredential, EntityID: project.ID.String()})
	require.NotNil(t, resp.Err)
	assert.True(t, registryerr.Is(resp.Err, registryerr.KindInUse))
}

// recordingAdapter records every Connect/Disconnect call it receives, for
// tests that assert on edge-level adapter fan-out.
type recordingAdapter struct {
	storage.Noop
	connected    []domain.Edge
	disconnected []domain.Edge
}

func (a *recordingAdapter) Connect(ctx context.Context, e domain.Edge) error {
	a.connected = append(a.connected, e)
	return nil
}

func (a *recordingAdapter) Disconnect(ctx context.Context, e domain.Edge) error {
	a.disconnected = append(a.disconnected, e)
	return nil
}

func TestDeleteDisconnectsIncidentEdgesInAdapters(t *testing.T) {
	idx, err := search.New()
	require.NoError(t, err)
	adapter := &recordingAdapter{}
	m := New(graph.New(), idx, rbac.New(), adapter)
	ctx := context.Background()

	project := *m.Apply(ctx, createProjectReq("fraud")).Entity
	source := *m.Apply(ctx, Request{
		Op:         OpCreateSource,
		Credential: rbac.DisabledCredential,
		Create:     &CreateRequest{Name: "txn_events", ParentIDOrName: project.ID.String(), SourceType: "hdfs"},
	}).Entity
	anchor := *m.Apply(ctx, Request{
		Op:         OpCreateAnchor,
		Credential: rbac.DisabledCredential,
		Create: &CreateRequest{
			Name: "txn_anchor", ParentIDOrName: project.ID.String(), AnchorSourceIDOrName: source.ID.String(),
		},
	}).Entity

	require.Len(t, adapter.connected, 3) // project->source Contains, project->anchor Contains, anchor->source Consumes

	resp := m.Apply(ctx, Request{Op: OpDelete, Credential: rbac.DisabledCredential, EntityID: anchor.ID.String()})
	require.Nil(t, resp.Err)

	want := domain.Edge{From: anchor.ID, To: source.ID, Type: domain.EdgeConsumes}
	assert.Contains(t, adapter.disconnected, want)
}

func TestCreateAnchorFeatureRejectsDummyKeyWithoutPassthrough(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	project := *m.Apply(ctx, createProjectReq("fraud")).Entity
	source := *m.Apply(ctx, Request{
		Op:         OpCreateSource,
		Credential: rbac.DisabledCredential,
		Create:     &CreateRequest{Name: "txn_events", ParentIDOrName: project.ID.String(), SourceType: "hdfs"},
	}).Entity
	anchor := *m.Apply(ctx, Request{
		Op:         OpCreateAnchor,
		Credential: rbac.DisabledCredential,
		Create: &CreateRequest{
			Name: "txn_anchor", ParentIDOrName: project.ID.String(), AnchorSourceIDOrName: source.ID.String(),
		},
	}).Entity

	resp := m.Apply(ctx, Request{
		Op:         OpCreateAnchorFeature,
		Credential: rbac.DisabledCredential,
		Create: &CreateRequest{
			Name: "amount", ParentIDOrName: anchor.ID.String(),
			Keys: []domain.TypedKey{{Column: domain.DummyKey}},
		},
	})
	require.NotNil(t, resp.Err)
	assert.True(t, registryerr.Is(resp.Err, registryerr.KindBadRequest))
}

func TestCreateAnchorFeatureAllowsDummyKeyOnPassthrough(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	project := *m.Apply(ctx, createProjectReq("fraud")).Entity
	source := *m.Apply(ctx, Request{
		Op:         OpCreateSource,
		Credential: rbac.DisabledCredential,
		Create:     &CreateRequest{Name: "request_context", ParentIDOrName: project.ID.String(), SourceType: domain.PassthroughSourceName},
	}).Entity
	anchor := *m.Apply(ctx, Request{
		Op:         OpCreateAnchor,
		Credential: rbac.DisabledCredential,
		Create: &CreateRequest{
			Name: "request_anchor", ParentIDOrName: project.ID.String(), AnchorSourceIDOrName: source.ID.String(),
		},
	}).Entity

	resp := m.Apply(ctx, Request{
		Op:         OpCreateAnchorFeature,
		Credential: rbac.DisabledCredential,
		Create: &CreateRequest{
			Name: "amount", ParentIDOrName: anchor.ID.String(),
			Keys: []domain.TypedKey{{Column: domain.DummyKey}},
		},
	})
	require.Nil(t, resp.Err)
}

func TestWriteRejectedWhenForbidden(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	bob := rbac.Credential{Kind: rbac.CredentialUser, Name: "bob"}
	resp := m.Apply(ctx, Request{
		Op:         OpCreateProject,
		Credential: bob,
		Create:     &CreateRequest{Name: "fraud"},
	})
	require.NotNil(t, resp.Err)
	assert.True(t, registryerr.Is(resp.Err, registryerr.KindForbidden))
}

func TestListIsScopedAndSortedByName(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	project := *m.Apply(ctx, createProjectReq("fraud")).Entity
	m.Apply(ctx, Request{
		Op: OpCreateSource, Credential: rbac.DisabledCredential,
		Create: &CreateRequest{Name: "zzz_source", ParentIDOrName: project.ID.String(), SourceType: "hdfs"},
	})
	m.Apply(ctx, Request{
		Op: OpCreateSource, Credential: rbac.DisabledCredential,
		Create: &CreateRequest{Name: "aaa_source", ParentIDOrName: project.ID.String(), SourceType: "hdfs"},
	})

	resp := m.Apply(ctx, Request{
		Op: OpList, Credential: rbac.DisabledCredential,
		EntityType: domain.EntityTypeSource, ScopeQualifiedName: project.QualifiedName,
	})
	require.Nil(t, resp.Err)
	require.Len(t, resp.Entities, 2)
	assert.Equal(t, "aaa_source", resp.Entities[0].Name)
	assert.Equal(t, "zzz_source", resp.Entities[1].Name)
}

func TestBatchLoadReproducesVersionsAndIsSearchable(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	projectID := domain.NewID()
	v1ID := domain.NewID()
	v2ID := domain.NewID()

	entities := []domain.Entity{
		{ID: projectID, Type: domain.EntityTypeProject, Name: "fraud", QualifiedName: "fraud", Version: 1, Attributes: &domain.ProjectAttributes{}},
		{ID: v2ID, Type: domain.EntityTypeSource, Name: "txn", QualifiedName: "fraud__txn", Version: 2, Attributes: &domain.SourceAttributes{SourceType: "jdbc"}},
		{ID: v1ID, Type: domain.EntityTypeSource, Name: "txn", QualifiedName: "fraud__txn", Version: 1, Attributes: &domain.SourceAttributes{SourceType: "hdfs"}},
	}
	edges := []domain.Edge{
		{From: projectID, To: v1ID, Type: domain.EdgeContains},
		{From: projectID, To: v2ID, Type: domain.EdgeContains},
	}

	resp := m.Apply(ctx, Request{Op: OpBatchLoad, BatchEntities: entities, BatchEdges: edges})
	require.Nil(t, resp.Err)

	got, ok := m.Graph.GetVersion("fraud__txn", nil)
	require.True(t, ok)
	assert.Equal(t, v2ID, got.ID)
	assert.Equal(t, int64(2), got.Version)

	ids, err := m.Search.Search("txn", nil, nil, 0, 0)
	require.NoError(t, err)
	assert.Contains(t, ids, v1ID)
	assert.Contains(t, ids, v2ID)
}
