// Package domain holds the feature-registry's data model: entities, edges,
// and the type-specific attribute shapes for projects, sources, anchors, and
// features. It has no dependency on storage, search, or transport — those
// layers depend on it, never the reverse.
package domain

import "time"

// EntityType tags the kind of node in the registry graph.
type EntityType string

const (
	EntityTypeProject        EntityType = "Project"
	EntityTypeSource         EntityType = "Source"
	EntityTypeAnchor         EntityType = "Anchor"
	EntityTypeAnchorFeature  EntityType = "AnchorFeature"
	EntityTypeDerivedFeature EntityType = "DerivedFeature"
)

// PassthroughSourceName is the distinguished source that exists once per
// project and represents "compute from the request context".
const PassthroughSourceName = "PASSTHROUGH"

// DummyKey is a feature key allowed only on an anchor feature whose anchor
// consumes a PASSTHROUGH source.
const DummyKey = "DUMMY"

// ID is a 128-bit entity identifier.
type ID [16]byte

// Tags is a free-form tag map. Values are stored as string slices uniformly:
// a bare string value round-trips as a single-element slice, matching the
// original registry's AttributeMap interop between scalar and list-valued
// properties.
type Tags map[string][]string

// Entity is the common envelope shared by every node in the registry graph.
// Type-specific data lives in Attributes, one of *ProjectAttributes,
// *SourceAttributes, *AnchorAttributes, *AnchorFeatureAttributes, or
// *DerivedFeatureAttributes depending on Type.
type Entity struct {
	ID            ID
	Type          EntityType
	Name          string
	QualifiedName string
	Version       int64
	Tags          Tags
	Description   string
	CreatedBy     string
	CreatedOn     time.Time
	Tombstoned    bool

	Attributes interface{}
}

// ProjectAttributes carries no fields beyond the common envelope.
type ProjectAttributes struct{}

// SourceAttributes describes where input data for a project comes from.
type SourceAttributes struct {
	SourceType string            // "hdfs", "jdbc", "generic", "PASSTHROUGH", ...
	Options    map[string]string // path, url, dbtable, query, auth, preprocessing,
	// event_timestamp_column, timestamp_format, preprocessingWindowSize, isTimeSeries
}

// AnchorAttributes marks a container over exactly one source; the source
// relationship itself is recorded as a graph edge, not an attribute field.
type AnchorAttributes struct{}

// TensorCategory is the feature-type descriptor's tensor shape.
type TensorCategory string

const (
	TensorDense  TensorCategory = "DENSE"
	TensorSparse TensorCategory = "SPARSE"
)

// ValueType is the scalar value type of a feature.
type ValueType string

const (
	ValueInt32   ValueType = "INT32"
	ValueInt64   ValueType = "INT64"
	ValueFloat   ValueType = "FLOAT"
	ValueDouble  ValueType = "DOUBLE"
	ValueBoolean ValueType = "BOOLEAN"
	ValueString  ValueType = "STRING"
)

// FeatureType is the tensor category, dimension types, and value type of a
// feature.
type FeatureType struct {
	TensorCategory TensorCategory
	DimensionTypes []ValueType
	ValueType      ValueType
}

// TransformationKind discriminates the three transformation shapes a feature
// may carry.
type TransformationKind string

const (
	TransformExpression TransformationKind = "EXPRESSION"
	TransformWindowAgg  TransformationKind = "WINDOW_AGG"
	TransformUDF        TransformationKind = "UDF"
)

// Transformation is one of: a raw SQL expression, a windowed aggregation over
// a column, or a named user-defined function.
type Transformation struct {
	Kind TransformationKind

	// Kind == TransformExpression
	Expression string

	// Kind == TransformWindowAgg
	AggColumn   string
	Aggregation string // e.g. SUM, AVG, COUNT, MAX, MIN, LATEST
	Window      string // ISO-ish duration, e.g. "1d", "90d"

	// Kind == TransformUDF
	UDFName string
}

// TypedKey is a feature's join key: a source column, its type, and an
// optional alias/description.
type TypedKey struct {
	Column      string
	KeyType     ValueType
	Alias       string
	Description string
}

// AnchorFeatureAttributes describes a feature defined directly over a
// source's columns.
type AnchorFeatureAttributes struct {
	FeatureType    FeatureType
	Transformation Transformation
	Keys           []TypedKey
}

// DerivedFeatureAttributes describes a feature defined over other features.
// InputFeatureIDs records the Consumes edges' targets so create-idempotency
// can compare the consumed set without re-walking the graph.
type DerivedFeatureAttributes struct {
	FeatureType     FeatureType
	Transformation  Transformation
	Keys            []TypedKey
	InputFeatureIDs []ID
}
