package rest

import (
	"net/http"

	"brain2-backend/domain"
	"brain2-backend/internal/statemachine"
)

type createSourceReq struct {
	createPayload
	Type    string            `json:"type" validate:"required"`
	Options map[string]string `json:"options,omitempty"`
}

type createAnchorReq struct {
	createPayload
	Source string `json:"source" validate:"required"`
}

type createFeatureReq struct {
	createPayload
	FeatureType    featureTypeDTO    `json:"featureType" validate:"required"`
	Transformation transformationDTO `json:"transformation" validate:"required"`
	Keys           []typedKeyDTO     `json:"keys,omitempty"`
}

type createDerivedFeatureReq struct {
	createFeatureReq
	Inputs []string `json:"inputs" validate:"required,min=1"`
}

func toDomainKeys(keys []typedKeyDTO) []domain.TypedKey {
	out := make([]domain.TypedKey, len(keys))
	for i, k := range keys {
		out[i] = k.toDomain()
	}
	return out
}

func (s *Server) decodeCreateProject(r *http.Request) (*statemachine.CreateRequest, error) {
	var body createPayload
	if err := s.decodeCreate(r, &body); err != nil {
		return nil, err
	}
	return &statemachine.CreateRequest{
		Name: body.Name, Tags: decodeTags(body.Tags), Description: body.Description, CreatedBy: body.CreatedBy,
	}, nil
}

func (s *Server) decodeCreateSource(r *http.Request, parentIDOrName string) (*statemachine.CreateRequest, error) {
	var body createSourceReq
	if err := s.decodeCreate(r, &body); err != nil {
		return nil, err
	}
	return &statemachine.CreateRequest{
		Name: body.Name, Tags: decodeTags(body.Tags), Description: body.Description, CreatedBy: body.CreatedBy,
		ParentIDOrName: parentIDOrName,
		SourceType:     body.Type,
		SourceOptions:  body.Options,
	}, nil
}

func (s *Server) decodeCreateAnchor(r *http.Request, parentIDOrName string) (*statemachine.CreateRequest, error) {
	var body createAnchorReq
	if err := s.decodeCreate(r, &body); err != nil {
		return nil, err
	}
	return &statemachine.CreateRequest{
		Name: body.Name, Tags: decodeTags(body.Tags), Description: body.Description, CreatedBy: body.CreatedBy,
		ParentIDOrName:       parentIDOrName,
		AnchorSourceIDOrName: body.Source,
	}, nil
}

func (s *Server) decodeCreateAnchorFeature(r *http.Request, parentIDOrName string) (*statemachine.CreateRequest, error) {
	var body createFeatureReq
	if err := s.decodeCreate(r, &body); err != nil {
		return nil, err
	}
	return &statemachine.CreateRequest{
		Name: body.Name, Tags: decodeTags(body.Tags), Description: body.Description, CreatedBy: body.CreatedBy,
		ParentIDOrName: parentIDOrName,
		FeatureType:    body.FeatureType.toDomain(),
		Transformation: body.Transformation.toDomain(),
		Keys:           toDomainKeys(body.Keys),
	}, nil
}

func (s *Server) decodeCreateDerivedFeature(r *http.Request, parentIDOrName string) (*statemachine.CreateRequest, error) {
	var body createDerivedFeatureReq
	if err := s.decodeCreate(r, &body); err != nil {
		return nil, err
	}
	return &statemachine.CreateRequest{
		Name: body.Name, Tags: decodeTags(body.Tags), Description: body.Description, CreatedBy: body.CreatedBy,
		ParentIDOrName: parentIDOrName,
		FeatureType:    body.FeatureType.toDomain(),
		Transformation: body.Transformation.toDomain(),
		Keys:           toDomainKeys(body.Keys),
		InputIDOrNames: body.Inputs,
	}, nil
}
