package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain2-backend/domain"
)

func TestIndexEntitySearchableImmediately(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)

	proj := domain.NewID()
	feat := domain.NewID()

	require.NoError(t, idx.IndexEntity(domain.Entity{
		ID: feat, Type: domain.EntityTypeAnchorFeature, Name: "f_req",
	}, []domain.ID{proj}))

	ids, err := idx.Search("req", nil, &proj, 10, 0)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, feat, ids[0])
}

func TestSearchFiltersByTypeAndScope(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)

	proj1, proj2 := domain.NewID(), domain.NewID()
	af := domain.NewID()
	df := domain.NewID()

	require.NoError(t, idx.IndexEntity(domain.Entity{ID: af, Type: domain.EntityTypeAnchorFeature, Name: "req_count"}, []domain.ID{proj1}))
	require.NoError(t, idx.IndexEntity(domain.Entity{ID: df, Type: domain.EntityTypeDerivedFeature, Name: "req_rate"}, []domain.ID{proj2}))

	ids, err := idx.Search("req", []domain.EntityType{domain.EntityTypeAnchorFeature}, &proj1, 10, 0)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, af, ids[0])
}

// TestSearchScopeIsolatesSameTypeAcrossProjects pins down full-UUID scope
// tokenization: with both fixtures the same entity type, only the type
// filter would pass even if scope tokens were shredded into stray letters
// shared by every UUID.
func TestSearchScopeIsolatesSameTypeAcrossProjects(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)

	proj1, proj2 := domain.NewID(), domain.NewID()
	af1, af2 := domain.NewID(), domain.NewID()

	require.NoError(t, idx.IndexEntity(domain.Entity{ID: af1, Type: domain.EntityTypeAnchorFeature, Name: "req_count"}, []domain.ID{proj1}))
	require.NoError(t, idx.IndexEntity(domain.Entity{ID: af2, Type: domain.EntityTypeAnchorFeature, Name: "req_rate"}, []domain.ID{proj2}))

	ids, err := idx.Search("req", []domain.EntityType{domain.EntityTypeAnchorFeature}, &proj1, 10, 0)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, af1, ids[0])
}

func TestEnableBuffersDuringBatchLoad(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)

	require.NoError(t, idx.Enable(false))
	id := domain.NewID()
	require.NoError(t, idx.AddDoc(domain.Entity{ID: id, Type: domain.EntityTypeProject, Name: "p1"}, nil))

	ids, err := idx.Search("p1", nil, nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, ids, "not visible before enable/commit")

	require.NoError(t, idx.Enable(true))
	ids, err = idx.Search("p1", nil, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, id, ids[0])
}

func TestDeleteRemovesFromSearchResults(t *testing.T) {
	idx, err := New()
	require.NoError(t, err)

	id := domain.NewID()
	require.NoError(t, idx.IndexEntity(domain.Entity{ID: id, Type: domain.EntityTypeProject, Name: "gone"}, nil))
	require.NoError(t, idx.Delete(id))

	ids, err := idx.Search("gone", nil, nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNameScoreOrdersLexicographically(t *testing.T) {
	assert.True(t, nameScore("alpha") > nameScore("beta"))
	assert.True(t, nameScore("apple") > nameScore("banana"))
}
