// Package search implements the registry's full-text search index over
// bleve, grounded on the BleveIndex shape sketched (but stubbed out) in
// straga-Mimir_lite/nornicdb/pkg/index/index.go.
package search

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"brain2-backend/domain"
)

// doc is the document shape indexed for every live entity.
type doc struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	Scopes    string `json:"scopes"`
	Type      string `json:"type"`
	Body      string `json:"body"`
	NameScore int64  `json:"name_score"`
}

func buildMapping() mapping.IndexMapping {
	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = en.AnalyzerName

	bodyField := bleve.NewTextFieldMapping()
	bodyField.Analyzer = en.AnalyzerName

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = "keyword"

	scopesField := bleve.NewTextFieldMapping()
	scopesField.Analyzer = "whitespace" // scope tokens are full UUIDs; letter-tokenizing analyzers shred them

	scoreField := bleve.NewNumericFieldMapping()
	scoreField.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("name", nameField)
	doc.AddFieldMappingsAt("id", keywordField)
	doc.AddFieldMappingsAt("scopes", scopesField)
	doc.AddFieldMappingsAt("type", keywordField)
	doc.AddFieldMappingsAt("body", bodyField)
	doc.AddFieldMappingsAt("name_score", scoreField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// Index is the registry's in-memory full-text index.
type Index struct {
	mu      sync.Mutex
	bleve   bleve.Index
	batch   *bleve.Batch
	enabled bool
}

// New builds an empty, enabled in-memory index.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("search: building index: %w", err)
	}
	return &Index{bleve: idx, enabled: true}, nil
}

func toDoc(e domain.Entity, scopes []domain.ID) doc {
	scopeTokens := make([]string, len(scopes))
	for i, s := range scopes {
		scopeTokens[i] = s.String()
	}
	body := strings.TrimSpace(e.Description + " " + transformationText(e))
	return doc{
		Name:      e.Name,
		ID:        e.ID.String(),
		Scopes:    strings.Join(scopeTokens, " "),
		Type:      string(e.Type),
		Body:      body,
		NameScore: nameScore(e.Name),
	}
}

// transformationText extracts the documentation-relevant free text from an
// entity's type-specific attributes, so a search for "avg_7d" or a UDF name
// finds the feature that uses it even when that text isn't in the name.
func transformationText(e domain.Entity) string {
	switch a := e.Attributes.(type) {
	case *domain.SourceAttributes:
		return a.SourceType
	case *domain.AnchorFeatureAttributes:
		return transformationOf(a.Transformation)
	case *domain.DerivedFeatureAttributes:
		return transformationOf(a.Transformation)
	default:
		return ""
	}
}

func transformationOf(t domain.Transformation) string {
	switch t.Kind {
	case domain.TransformExpression:
		return t.Expression
	case domain.TransformWindowAgg:
		return strings.Join([]string{t.AggColumn, t.Aggregation, t.Window}, " ")
	case domain.TransformUDF:
		return t.UDFName
	default:
		return ""
	}
}

// nameScoreWidth is the number of leading alphanumeric characters of a name
// that determine its sort key. 12 base-36 digits comfortably fit in 63 bits
// (36^12 < 2^63).
const nameScoreWidth = 12

// nameScore derives a 64-bit sort key from the first nameScoreWidth
// alphanumeric characters of name, interpreted as base-36 digits and
// right-padded with the zero digit so names of different lengths remain
// comparable, then inverted so a descending sort on NameScore yields
// ascending lexicographic order (Tantivy, which the original registry sorts
// through, scores descending; Search sorts descending too).
func nameScore(name string) int64 {
	var v int64
	count := 0
	for _, r := range strings.ToLower(name) {
		if count >= nameScoreWidth {
			break
		}
		var digit int64
		switch {
		case r >= '0' && r <= '9':
			digit = int64(r - '0')
		case r >= 'a' && r <= 'z':
			digit = int64(r-'a') + 10
		default:
			continue
		}
		v = v*36 + digit
		count++
	}
	for ; count < nameScoreWidth; count++ {
		v = v * 36 // pad with the zero digit
	}
	return math.MaxInt64 - v
}

// AddDoc indexes entity. While indexing is disabled (Enable(false)) the
// document is buffered and stays invisible to readers until Commit or
// Enable(true) flushes the batch; while enabled it is indexed immediately.
func (idx *Index) AddDoc(e domain.Entity, scopes []domain.ID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.addDocLocked(e, scopes)
}

func (idx *Index) addDocLocked(e domain.Entity, scopes []domain.ID) error {
	d := toDoc(e, scopes)
	if !idx.enabled {
		if idx.batch == nil {
			idx.batch = idx.bleve.NewBatch()
		}
		return idx.batch.Index(d.ID, d)
	}
	return idx.bleve.Index(d.ID, d)
}

// Commit flushes any buffered batch, making prior AddDoc calls visible.
func (idx *Index) Commit() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.commitLocked()
}

func (idx *Index) commitLocked() error {
	if idx.batch == nil {
		return nil
	}
	err := idx.bleve.Batch(idx.batch)
	idx.batch = nil
	return err
}

// IndexEntity adds and immediately commits a single entity; used for
// single-entity mutations outside batch load.
func (idx *Index) IndexEntity(e domain.Entity, scopes []domain.ID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.addDocLocked(e, scopes); err != nil {
		return err
	}
	return idx.commitLocked()
}

// Delete removes entity id from the index; visible after the next Commit
// when called during a disabled batch window, or immediately otherwise.
func (idx *Index) Delete(id domain.ID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.enabled {
		if idx.batch == nil {
			idx.batch = idx.bleve.NewBatch()
		}
		idx.batch.Delete(id.String())
		return nil
	}
	return idx.bleve.Delete(id.String())
}

// Enable toggles indexing. Disabling buffers subsequent AddDoc calls into a
// single batch (used during cold-start batch load); re-enabling flushes
// that batch once, avoiding a commit per inserted entity.
func (idx *Index) Enable(flag bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.enabled = flag
	if flag {
		return idx.commitLocked()
	}
	return nil
}

// Search parses query against name/id/body, intersects with scope (if
// given) and the union of types (if given), and returns matching ids sorted
// by name_score descending, which is ascending name order.
func (idx *Index) Search(q string, types []domain.EntityType, scope *domain.ID, limit, offset int) ([]domain.ID, error) {
	idx.mu.Lock()
	b := idx.bleve
	idx.mu.Unlock()

	must := []query.Query{}

	if strings.TrimSpace(q) != "" {
		disjunction := bleve.NewDisjunctionQuery(
			bleve.NewMatchQuery(q),
			newFieldMatch("name", q),
			newFieldMatch("id", q),
			newFieldMatch("body", q),
		)
		must = append(must, disjunction)
	}

	if scope != nil {
		must = append(must, newFieldMatch("scopes", scope.String()))
	}

	if len(types) > 0 {
		typeQueries := make([]query.Query, len(types))
		for i, t := range types {
			typeQueries[i] = newFieldMatch("type", string(t))
		}
		must = append(must, bleve.NewDisjunctionQuery(typeQueries...))
	}

	var finalQuery query.Query
	switch len(must) {
	case 0:
		finalQuery = bleve.NewMatchAllQuery()
	case 1:
		finalQuery = must[0]
	default:
		finalQuery = bleve.NewConjunctionQuery(must...)
	}

	req := bleve.NewSearchRequestOptions(finalQuery, limit, offset, false)
	req.Fields = []string{"id", "name_score"}
	// name_score is inverted (see nameScore), so a descending sort on it
	// yields ascending lexicographic order on the underlying name.
	req.SortBy([]string{"-name_score"})
	if limit <= 0 {
		req.Size = 10000
	}

	result, err := b.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: query failed: %w", err)
	}

	out := make([]domain.ID, 0, len(result.Hits))
	for _, hit := range result.Hits {
		idStr, _ := hit.Fields["id"].(string)
		id, err := domain.ParseID(idStr)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func newFieldMatch(field, value string) query.Query {
	m := bleve.NewMatchQuery(value)
	m.SetField(field)
	return m
}
