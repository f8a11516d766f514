package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain2-backend/domain"
)

func newProject(t *testing.T, s *Store, name string) domain.Entity {
	t.Helper()
	id := domain.NewID()
	_, err := s.InsertEntity(domain.Entity{
		ID:            id,
		Type:          domain.EntityTypeProject,
		Name:          name,
		QualifiedName: name,
	})
	require.NoError(t, err)
	e, ok := s.GetByID(id)
	require.True(t, ok)
	return e
}

func TestInsertEntityAssignsDenseVersions(t *testing.T) {
	s := New()
	p := newProject(t, s, "p1")

	qname := domain.QualifiedChildName(p.QualifiedName, "src")
	id1 := domain.NewID()
	_, err := s.InsertEntity(domain.Entity{ID: id1, Type: domain.EntityTypeSource, Name: "src", QualifiedName: qname})
	require.NoError(t, err)

	id2 := domain.NewID()
	_, err = s.InsertEntity(domain.Entity{ID: id2, Type: domain.EntityTypeSource, Name: "src", QualifiedName: qname})
	require.NoError(t, err)

	e1, _ := s.GetByID(id1)
	e2, _ := s.GetByID(id2)
	assert.Equal(t, int64(1), e1.Version)
	assert.Equal(t, int64(2), e2.Version)

	latest, ok := s.GetVersion(qname, nil)
	require.True(t, ok)
	assert.Equal(t, id2, latest.ID)

	v1, ok := s.GetVersion(qname, int64Ptr(1))
	require.True(t, ok)
	assert.Equal(t, id1, v1.ID)
}

func TestInsertEntityRejectsDuplicateID(t *testing.T) {
	s := New()
	id := domain.NewID()
	_, err := s.InsertEntity(domain.Entity{ID: id, Type: domain.EntityTypeProject, Name: "p", QualifiedName: "p"})
	require.NoError(t, err)

	_, err = s.InsertEntity(domain.Entity{ID: id, Type: domain.EntityTypeProject, Name: "p2", QualifiedName: "p2"})
	require.Error(t, err)
}

func TestConnectValidatesLegalEdgeShape(t *testing.T) {
	s := New()
	p := newProject(t, s, "p1")
	src := domain.NewID()
	_, err := s.InsertEntity(domain.Entity{ID: src, Type: domain.EntityTypeSource, Name: "s", QualifiedName: "p1__s"})
	require.NoError(t, err)

	require.NoError(t, s.Connect(p.ID, src, domain.EdgeContains))

	// Source -> Project via Contains is not a legal shape.
	err = s.Connect(src, p.ID, domain.EdgeContains)
	require.Error(t, err)
}

func TestConnectCreatesReflectionAndIsIdempotent(t *testing.T) {
	s := New()
	p := newProject(t, s, "p1")
	src := domain.NewID()
	_, _ = s.InsertEntity(domain.Entity{ID: src, Type: domain.EntityTypeSource, Name: "s", QualifiedName: "p1__s"})

	require.NoError(t, s.Connect(p.ID, src, domain.EdgeContains))
	require.NoError(t, s.Connect(p.ID, src, domain.EdgeContains)) // idempotent

	children := s.Neighbors(p.ID, domain.EdgeContains)
	require.Len(t, children, 1)
	assert.Equal(t, src, children[0].ID)

	parents := s.Neighbors(src, domain.EdgeBelongsTo)
	require.Len(t, parents, 1)
	assert.Equal(t, p.ID, parents[0].ID)
}

func TestDeleteEntityFailsWhenInUse(t *testing.T) {
	s := New()
	p := newProject(t, s, "p1")
	src := domain.NewID()
	_, _ = s.InsertEntity(domain.Entity{ID: src, Type: domain.EntityTypeSource, Name: "s", QualifiedName: "p1__s"})
	require.NoError(t, s.Connect(p.ID, src, domain.EdgeContains))

	err := s.DeleteEntity(p.ID)
	require.Error(t, err)

	require.NoError(t, s.DeleteEntity(src))
	require.NoError(t, s.DeleteEntity(p.ID))

	_, ok := s.GetByID(src)
	assert.False(t, ok)
	assert.Empty(t, s.Neighbors(p.ID, domain.EdgeContains))
}

func TestLineageUnionsConsumesAndProduces(t *testing.T) {
	s := New()
	p := newProject(t, s, "p1")

	src := domain.NewID()
	_, _ = s.InsertEntity(domain.Entity{ID: src, Type: domain.EntityTypeSource, Name: "s", QualifiedName: "p1__s"})
	require.NoError(t, s.Connect(p.ID, src, domain.EdgeContains))

	anchor := domain.NewID()
	_, _ = s.InsertEntity(domain.Entity{ID: anchor, Type: domain.EntityTypeAnchor, Name: "a", QualifiedName: "p1__a"})
	require.NoError(t, s.Connect(p.ID, anchor, domain.EdgeContains))
	require.NoError(t, s.Connect(anchor, src, domain.EdgeConsumes))

	af := domain.NewID()
	_, _ = s.InsertEntity(domain.Entity{ID: af, Type: domain.EntityTypeAnchorFeature, Name: "f", QualifiedName: "p1__a__f"})
	require.NoError(t, s.Connect(p.ID, af, domain.EdgeContains))
	require.NoError(t, s.Connect(anchor, af, domain.EdgeContains))
	require.NoError(t, s.Connect(af, src, domain.EdgeConsumes))

	df := domain.NewID()
	_, _ = s.InsertEntity(domain.Entity{ID: df, Type: domain.EntityTypeDerivedFeature, Name: "d", QualifiedName: "p1__d"})
	require.NoError(t, s.Connect(p.ID, df, domain.EdgeContains))
	require.NoError(t, s.Connect(df, af, domain.EdgeConsumes))

	entities, _ := s.Lineage(df, 0)
	ids := map[domain.ID]bool{}
	for _, e := range entities {
		ids[e.ID] = true
	}
	assert.True(t, ids[df])
	assert.True(t, ids[af])
	assert.True(t, ids[src])
}

func TestGetProjectReturnsInducedSubgraph(t *testing.T) {
	s := New()
	p := newProject(t, s, "p1")
	src := domain.NewID()
	_, _ = s.InsertEntity(domain.Entity{ID: src, Type: domain.EntityTypeSource, Name: "s", QualifiedName: "p1__s"})
	require.NoError(t, s.Connect(p.ID, src, domain.EdgeContains))

	project, members, edges, err := s.GetProject(p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, p.ID, project.ID)
	require.Len(t, members, 1)
	assert.Equal(t, src, members[0].ID)
	require.Len(t, edges, 2) // the Contains edge and its stored BelongsTo reflection
	assert.Contains(t, edges, domain.Edge{From: p.ID, To: src, Type: domain.EdgeContains})
	assert.Contains(t, edges, domain.Edge{From: src, To: p.ID, Type: domain.EdgeBelongsTo})

	byName, _, _, err := s.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)
}

// TestListByTypeScopeDoesNotMatchOnNamePrefix guards against "p1" scoping in
// a sibling project whose name happens to start with the same characters,
// e.g. "p12".
func TestListByTypeScopeDoesNotMatchOnNamePrefix(t *testing.T) {
	s := New()
	p1 := newProject(t, s, "p1")
	p12 := newProject(t, s, "p12")

	src1 := domain.NewID()
	_, _ = s.InsertEntity(domain.Entity{ID: src1, Type: domain.EntityTypeSource, Name: "s", QualifiedName: "p1__s"})
	require.NoError(t, s.Connect(p1.ID, src1, domain.EdgeContains))

	src2 := domain.NewID()
	_, _ = s.InsertEntity(domain.Entity{ID: src2, Type: domain.EntityTypeSource, Name: "s", QualifiedName: "p12__s"})
	require.NoError(t, s.Connect(p12.ID, src2, domain.EdgeContains))

	out := s.ListByType(domain.EntityTypeSource, "p1")
	require.Len(t, out, 1)
	assert.Equal(t, src1, out[0].ID)
}

func int64Ptr(v int64) *int64 { return &v }
