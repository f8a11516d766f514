package rest

import (
	"net/http"

	"brain2-backend/domain"
	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/statemachine"
)

// resolveScope issues a plain OpGet for idOrName (statemachine.resolve has no
// type filter, so this works for any entity kind) and returns the resolved
// entity, whose canonical QualifiedName is the form internal/graph.ListByType's
// prefix scoping requires, as opposed to a bare id or version-suffixed name.
func (s *Server) resolveScope(r *http.Request, idOrName string) (domain.Entity, *registryerr.Error) {
	resp, ok := s.dispatch(discard{}, r, statemachine.Request{Op: statemachine.OpGet, IDOrName: idOrName})
	if !ok {
		return domain.Entity{}, resp.Err
	}
	return *resp.Entity, nil
}

// discard is an http.ResponseWriter that throws away everything written to
// it, for a scope-resolution dispatch call whose header/body writes the
// caller doesn't want reflected on the real response writer (the real
// handler issues its own dispatch afterward).
type discard struct{}

func (discard) Header() http.Header         { return http.Header{} }
func (discard) Write(b []byte) (int, error) { return len(b), nil }
func (discard) WriteHeader(int)             {}

// listEntities runs OpList scoped to scopeQName (pass "" for unscoped),
// paginates the result, and writes it as a list of entityDTOs.
func (s *Server) listEntities(w http.ResponseWriter, r *http.Request, entityType domain.EntityType, scopeQName, keyword string, limit, offset int) {
	resp, ok := s.dispatch(w, r, statemachine.Request{
		Op:                 statemachine.OpList,
		EntityType:         entityType,
		ScopeQualifiedName: scopeQName,
		Query:              keyword,
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEntityDTOs(paginate(resp.Entities, limit, offset)))
}

// listNames is listEntities's qualified-name-only counterpart, used by the
// top-level project list endpoint.
func (s *Server) listNames(w http.ResponseWriter, r *http.Request, entityType domain.EntityType, keyword string, limit, offset int) {
	resp, ok := s.dispatch(w, r, statemachine.Request{
		Op:         statemachine.OpList,
		EntityType: entityType,
		Query:      keyword,
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, qualifiedNames(paginate(resp.Entities, limit, offset)))
}

// getEntity resolves idOrName (optionally honoring an explicit version)
// and writes the single entityDTO.
func (s *Server) getEntity(w http.ResponseWriter, r *http.Request, entityType domain.EntityType, idOrName string, version *int64) {
	resp, ok := s.dispatch(w, r, statemachine.Request{
		Op:         statemachine.OpGet,
		EntityType: entityType,
		IDOrName:   idOrName,
		Version:    version,
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEntityDTO(*resp.Entity))
}

// listVersions writes every version of idOrName's qualified name.
func (s *Server) listVersions(w http.ResponseWriter, r *http.Request, idOrName string) {
	resp, ok := s.dispatch(w, r, statemachine.Request{Op: statemachine.OpListVersions, IDOrName: idOrName})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEntityDTOs(resp.Entities))
}

// deleteEntity issues OpDelete for idOrName.
func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request, idOrName string) {
	resp, ok := s.dispatch(w, r, statemachine.Request{Op: statemachine.OpDelete, EntityID: idOrName})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEntityDTO(*resp.Entity))
}

// lineage writes OpLineage's (entities, edges) pair for idOrName.
func (s *Server) lineage(w http.ResponseWriter, r *http.Request, idOrName string, limit int) {
	resp, ok := s.dispatch(w, r, statemachine.Request{Op: statemachine.OpLineage, EntityID: idOrName, LineageLimit: limit})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lineageDTO{Entities: toEntityDTOs(resp.Lineage.Entities), Edges: toEdgeDTOs(resp.Lineage.Edges)})
}

// projectDetail writes a project entityDTO enriched with a "children" list
// of its contained entities' qualified names.
func (s *Server) projectDetail(w http.ResponseWriter, r *http.Request, idOrName string) {
	resp, ok := s.dispatch(w, r, statemachine.Request{Op: statemachine.OpGetProjectGraph, ProjectIDOrName: idOrName})
	if !ok {
		return
	}
	children := make([]string, 0, len(resp.ProjectGraph.Members))
	for _, m := range resp.ProjectGraph.Members {
		children = append(children, m.QualifiedName)
	}
	body := struct {
		entityDTO
		Children []string `json:"children"`
	}{entityDTO: toEntityDTO(resp.ProjectGraph.Project), Children: children}
	writeJSON(w, http.StatusOK, body)
}

// projectLineage writes the project's induced subgraph: the project entity,
// every member entity, and the edges between them.
func (s *Server) projectLineage(w http.ResponseWriter, r *http.Request, idOrName string) {
	resp, ok := s.dispatch(w, r, statemachine.Request{Op: statemachine.OpGetProjectGraph, ProjectIDOrName: idOrName})
	if !ok {
		return
	}
	entities := append([]domain.Entity{resp.ProjectGraph.Project}, resp.ProjectGraph.Members...)
	writeJSON(w, http.StatusOK, lineageDTO{Entities: toEntityDTOs(entities), Edges: toEdgeDTOs(resp.ProjectGraph.Edges)})
}

// create issues op with payload, writing the resulting entityDTO. The state
// machine assigns the new entity's ID; the wire payload never carries one.
func (s *Server) create(w http.ResponseWriter, r *http.Request, op statemachine.Op, payload *statemachine.CreateRequest) {
	resp, ok := s.dispatch(w, r, statemachine.Request{Op: op, Create: payload})
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, toEntityDTO(*resp.Entity))
}
