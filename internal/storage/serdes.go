package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"brain2-backend/domain"
)

// wireEntity is the JSON shape persisted in entities.entity_content. It
// carries the whole entity, not only its type-specific attributes, since
// the relational adapter has no other column to hold
// name/qualifiedName/version/tags/createdBy/createdOn and the startup
// batch-load path needs all of it to reconstruct the graph.
type wireEntity struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualifiedName"`
	Version       int64      `json:"version"`
	Tags          domain.Tags `json:"tags,omitempty"`
	Description   string     `json:"description,omitempty"`
	CreatedBy     string     `json:"createdBy"`
	CreatedOn     time.Time  `json:"createdOn"`

	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// EncodeEntity serialises e for storage in entities.entity_content.
func EncodeEntity(e domain.Entity) ([]byte, error) {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal attributes: %w", err)
	}
	w := wireEntity{
		ID:            e.ID.String(),
		Type:          string(e.Type),
		Name:          e.Name,
		QualifiedName: e.QualifiedName,
		Version:       e.Version,
		Tags:          e.Tags,
		Description:   e.Description,
		CreatedBy:     e.CreatedBy,
		CreatedOn:     e.CreatedOn,
		Attributes:    attrs,
	}
	return json.Marshal(w)
}

// DecodeEntity deserialises a row written by EncodeEntity.
func DecodeEntity(data []byte) (domain.Entity, error) {
	var w wireEntity
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.Entity{}, fmt.Errorf("storage: unmarshal entity: %w", err)
	}
	id, err := domain.ParseID(w.ID)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("storage: parse entity id: %w", err)
	}
	t := domain.EntityType(w.Type)

	attrs, err := decodeAttributes(t, w.Attributes)
	if err != nil {
		return domain.Entity{}, err
	}

	return domain.Entity{
		ID:            id,
		Type:          t,
		Name:          w.Name,
		QualifiedName: w.QualifiedName,
		Version:       w.Version,
		Tags:          w.Tags,
		Description:   w.Description,
		CreatedBy:     w.CreatedBy,
		CreatedOn:     w.CreatedOn,
		Attributes:    attrs,
	}, nil
}

func decodeAttributes(t domain.EntityType, raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	var target interface{}
	switch t {
	case domain.EntityTypeProject:
		target = &domain.ProjectAttributes{}
	case domain.EntityTypeSource:
		target = &domain.SourceAttributes{}
	case domain.EntityTypeAnchor:
		target = &domain.AnchorAttributes{}
	case domain.EntityTypeAnchorFeature:
		target = &domain.AnchorFeatureAttributes{}
	case domain.EntityTypeDerivedFeature:
		target = &domain.DerivedFeatureAttributes{}
	default:
		return nil, fmt.Errorf("storage: unknown entity type %q", t)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("storage: unmarshal %s attributes: %w", t, err)
	}
	return target, nil
}
