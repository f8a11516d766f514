// Package rest implements the registry's v1/v2 REST surface: a chi +
// validator + zap handler shape generalized from node/edge/graph/search
// handlers to project/source/anchor/feature handlers dispatched through
// internal/router.Router instead of a command/query bus pair.
package rest

import (
	"encoding/json"
	"time"

	"brain2-backend/domain"
)

// wireTagValue accepts either a bare JSON string or a JSON array of strings,
// normalizing both to []string, matching the original registry's
// AttributeMap scalar/list interop.
type wireTagValue []string

func (v *wireTagValue) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*v = list
	return nil
}

func decodeTags(in map[string]wireTagValue) domain.Tags {
	if len(in) == 0 {
		return nil
	}
	out := make(domain.Tags, len(in))
	for k, v := range in {
		out[k] = []string(v)
	}
	return out
}

// typedKeyDTO mirrors domain.TypedKey on the wire.
type typedKeyDTO struct {
	Column      string `json:"column"`
	Type        string `json:"type"`
	Alias       string `json:"alias,omitempty"`
	Description string `json:"description,omitempty"`
}

func (k typedKeyDTO) toDomain() domain.TypedKey {
	return domain.TypedKey{Column: k.Column, KeyType: domain.ValueType(k.Type), Alias: k.Alias, Description: k.Description}
}

func typedKeyFromDomain(k domain.TypedKey) typedKeyDTO {
	return typedKeyDTO{Column: k.Column, Type: string(k.KeyType), Alias: k.Alias, Description: k.Description}
}

// featureTypeDTO mirrors domain.FeatureType on the wire.
type featureTypeDTO struct {
	TensorCategory string   `json:"tensorCategory"`
	DimensionTypes []string `json:"dimensionTypes,omitempty"`
	ValueType      string   `json:"valueType"`
}

func (t featureTypeDTO) toDomain() domain.FeatureType {
	dims := make([]domain.ValueType, len(t.DimensionTypes))
	for i, d := range t.DimensionTypes {
		dims[i] = domain.ValueType(d)
	}
	return domain.FeatureType{
		TensorCategory: domain.TensorCategory(t.TensorCategory),
		DimensionTypes: dims,
		ValueType:      domain.ValueType(t.ValueType),
	}
}

func featureTypeFromDomain(t domain.FeatureType) featureTypeDTO {
	dims := make([]string, len(t.DimensionTypes))
	for i, d := range t.DimensionTypes {
		dims[i] = string(d)
	}
	return featureTypeDTO{TensorCategory: string(t.TensorCategory), DimensionTypes: dims, ValueType: string(t.ValueType)}
}

// transformationDTO mirrors domain.Transformation on the wire.
type transformationDTO struct {
	Type string `json:"type"`

	Expression string `json:"expression,omitempty"`

	AggColumn   string `json:"aggColumn,omitempty"`
	Aggregation string `json:"aggregation,omitempty"`
	Window      string `json:"window,omitempty"`

	UDFName string `json:"udfName,omitempty"`
}

func (t transformationDTO) toDomain() domain.Transformation {
	return domain.Transformation{
		Kind:        domain.TransformationKind(t.Type),
		Expression:  t.Expression,
		AggColumn:   t.AggColumn,
		Aggregation: t.Aggregation,
		Window:      t.Window,
		UDFName:     t.UDFName,
	}
}

func transformationFromDomain(t domain.Transformation) transformationDTO {
	return transformationDTO{
		Type:        string(t.Kind),
		Expression:  t.Expression,
		AggColumn:   t.AggColumn,
		Aggregation: t.Aggregation,
		Window:      t.Window,
		UDFName:     t.UDFName,
	}
}

// entityDTO is the wire envelope every entity response shares: guid, name,
// qualifiedName, version, typeName, status, displayText, attributes,
// createdBy, createdOn.
type entityDTO struct {
	GUID          string      `json:"guid"`
	Name          string      `json:"name"`
	QualifiedName string      `json:"qualifiedName"`
	Version       int64       `json:"version"`
	TypeName      string      `json:"typeName"`
	Status        string      `json:"status"`
	DisplayText   string      `json:"displayText"`
	Attributes    interface{} `json:"attributes"`
	Tags          domain.Tags `json:"tags,omitempty"`
	Description   string      `json:"description,omitempty"`
	CreatedBy     string      `json:"createdBy"`
	CreatedOn     time.Time   `json:"createdOn"`
}

func entityStatus(e domain.Entity) string {
	if e.Tombstoned {
		return "DELETED"
	}
	return "ACTIVE"
}

func toEntityDTO(e domain.Entity) entityDTO {
	return entityDTO{
		GUID:          e.ID.String(),
		Name:          e.Name,
		QualifiedName: e.QualifiedName,
		Version:       e.Version,
		TypeName:      string(e.Type),
		Status:        entityStatus(e),
		DisplayText:   e.Name,
		Attributes:    attributesDTO(e),
		Tags:          e.Tags,
		Description:   e.Description,
		CreatedBy:     e.CreatedBy,
		CreatedOn:     e.CreatedOn,
	}
}

func toEntityDTOs(es []domain.Entity) []entityDTO {
	out := make([]entityDTO, len(es))
	for i, e := range es {
		out[i] = toEntityDTO(e)
	}
	return out
}

func attributesDTO(e domain.Entity) interface{} {
	switch a := e.Attributes.(type) {
	case *domain.SourceAttributes:
		return map[string]interface{}{"type": a.SourceType, "options": a.Options}
	case *domain.AnchorFeatureAttributes:
		return map[string]interface{}{
			"type":           featureTypeFromDomain(a.FeatureType),
			"transformation": transformationFromDomain(a.Transformation),
			"keys":           typedKeysFromDomain(a.Keys),
		}
	case *domain.DerivedFeatureAttributes:
		inputs := make([]string, len(a.InputFeatureIDs))
		for i, id := range a.InputFeatureIDs {
			inputs[i] = id.String()
		}
		return map[string]interface{}{
			"type":           featureTypeFromDomain(a.FeatureType),
			"transformation": transformationFromDomain(a.Transformation),
			"keys":           typedKeysFromDomain(a.Keys),
			"inputs":         inputs,
		}
	default:
		return map[string]interface{}{}
	}
}

func typedKeysFromDomain(keys []domain.TypedKey) []typedKeyDTO {
	out := make([]typedKeyDTO, len(keys))
	for i, k := range keys {
		out[i] = typedKeyFromDomain(k)
	}
	return out
}

// lineageDTO is the wire shape of OpLineage / OpGetProjectGraph results.
type lineageDTO struct {
	Entities []entityDTO `json:"entities"`
	Edges    []edgeDTO   `json:"edges"`
}

type edgeDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

func toEdgeDTOs(edges []domain.Edge) []edgeDTO {
	out := make([]edgeDTO, len(edges))
	for i, e := range edges {
		out[i] = edgeDTO{From: e.From.String(), To: e.To.String(), Type: string(e.Type)}
	}
	return out
}

// errorDTO is the JSON body returned alongside a non-2xx status.
type errorDTO struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	LeaderHint string `json:"leaderHint,omitempty"`
}
