package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"brain2-backend/domain"
	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/statemachine"
)

// MountV1 attaches the v1 surface under r: page/limit pagination, no
// explicit version sub-routes (an id-or-name may carry an inline ":version"
// suffix per domain.ExtractVersion, resolved transparently by the state
// machine).
func MountV1(router chi.Router, s *Server) {
	router.Route("/v1", func(r chi.Router) {
		r.Get("/projects", s.v1ListProjects)
		r.Post("/projects", s.v1CreateProject)
		r.Get("/projects/{project}", s.v1GetProject)
		r.Delete("/projects/{project}", s.v1DeleteProject)
		r.Get("/projects/{project}/lineage", s.v1ProjectLineage)

		r.Get("/projects/{project}/datasources", s.v1ListChildren(domain.EntityTypeSource))
		r.Post("/projects/{project}/datasources", s.v1CreateSource)
		r.Get("/projects/{project}/datasources/{datasource}", s.v1GetChild(domain.EntityTypeSource, "datasource"))
		r.Delete("/projects/{project}/datasources/{datasource}", s.v1DeleteChild("datasource"))

		r.Get("/projects/{project}/anchors", s.v1ListChildren(domain.EntityTypeAnchor))
		r.Post("/projects/{project}/anchors", s.v1CreateAnchor)
		r.Get("/projects/{project}/anchors/{anchor}", s.v1GetChild(domain.EntityTypeAnchor, "anchor"))
		r.Delete("/projects/{project}/anchors/{anchor}", s.v1DeleteChild("anchor"))

		r.Get("/anchors/{anchor}/features", s.v1ListAnchorFeatures)
		r.Post("/anchors/{anchor}/features", s.v1CreateAnchorFeature)
		r.Get("/anchors/{anchor}/features/{feature}", s.v1GetChild(domain.EntityTypeAnchorFeature, "feature"))
		r.Delete("/anchors/{anchor}/features/{feature}", s.v1DeleteChild("feature"))

		r.Get("/projects/{project}/derivedfeatures", s.v1ListChildren(domain.EntityTypeDerivedFeature))
		r.Post("/projects/{project}/derivedfeatures", s.v1CreateDerivedFeature)
		r.Get("/projects/{project}/derivedfeatures/{feature}", s.v1GetChild(domain.EntityTypeDerivedFeature, "feature"))
		r.Delete("/projects/{project}/derivedfeatures/{feature}", s.v1DeleteChild("feature"))

		r.Get("/features/{feature}", s.v1GetFeature)
		r.Get("/features/{feature}/lineage", s.v1FeatureLineage)

		r.Get("/search", s.v1Search)
	})
}

func (s *Server) v1ListProjects(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageV1(r)
	s.listNames(w, r, domain.EntityTypeProject, r.URL.Query().Get("keyword"), limit, offset)
}

func (s *Server) v1CreateProject(w http.ResponseWriter, r *http.Request) {
	create, err := s.decodeCreateProject(r)
	if err != nil {
		writeErr(w, err.(*registryerr.Error))
		return
	}
	s.create(w, r, statemachine.OpCreateProject, create)
}

func (s *Server) v1GetProject(w http.ResponseWriter, r *http.Request) {
	s.projectDetail(w, r, chi.URLParam(r, "project"))
}

func (s *Server) v1DeleteProject(w http.ResponseWriter, r *http.Request) {
	s.deleteEntity(w, r, chi.URLParam(r, "project"))
}

func (s *Server) v1ProjectLineage(w http.ResponseWriter, r *http.Request) {
	s.projectLineage(w, r, chi.URLParam(r, "project"))
}

// v1ListChildren returns a handler listing entityType scoped to the
// {project} path param, resolved to its canonical qualified name first
// since internal/graph.Store.ListByType scopes by qualified-name prefix.
func (s *Server) v1ListChildren(entityType domain.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, rerr := s.resolveScope(r, chi.URLParam(r, "project"))
		if rerr != nil {
			writeErr(w, rerr)
			return
		}
		limit, offset := pageV1(r)
		s.listEntities(w, r, entityType, project.QualifiedName, r.URL.Query().Get("keyword"), limit, offset)
	}
}

func (s *Server) v1ListAnchorFeatures(w http.ResponseWriter, r *http.Request) {
	anchor, rerr := s.resolveScope(r, chi.URLParam(r, "anchor"))
	if rerr != nil {
		writeErr(w, rerr)
		return
	}
	limit, offset := pageV1(r)
	s.listEntities(w, r, domain.EntityTypeAnchorFeature, anchor.QualifiedName, r.URL.Query().Get("keyword"), limit, offset)
}

func (s *Server) v1GetChild(entityType domain.EntityType, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.getEntity(w, r, entityType, chi.URLParam(r, param), nil)
	}
}

func (s *Server) v1DeleteChild(param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.deleteEntity(w, r, chi.URLParam(r, param))
	}
}

func (s *Server) v1CreateSource(w http.ResponseWriter, r *http.Request) {
	create, err := s.decodeCreateSource(r, chi.URLParam(r, "project"))
	if err != nil {
		writeErr(w, err.(*registryerr.Error))
		return
	}
	s.create(w, r, statemachine.OpCreateSource, create)
}

func (s *Server) v1CreateAnchor(w http.ResponseWriter, r *http.Request) {
	create, err := s.decodeCreateAnchor(r, chi.URLParam(r, "project"))
	if err != nil {
		writeErr(w, err.(*registryerr.Error))
		return
	}
	s.create(w, r, statemachine.OpCreateAnchor, create)
}

func (s *Server) v1CreateAnchorFeature(w http.ResponseWriter, r *http.Request) {
	create, err := s.decodeCreateAnchorFeature(r, chi.URLParam(r, "anchor"))
	if err != nil {
		writeErr(w, err.(*registryerr.Error))
		return
	}
	s.create(w, r, statemachine.OpCreateAnchorFeature, create)
}

func (s *Server) v1CreateDerivedFeature(w http.ResponseWriter, r *http.Request) {
	create, err := s.decodeCreateDerivedFeature(r, chi.URLParam(r, "project"))
	if err != nil {
		writeErr(w, err.(*registryerr.Error))
		return
	}
	s.create(w, r, statemachine.OpCreateDerivedFeature, create)
}

func (s *Server) v1GetFeature(w http.ResponseWriter, r *http.Request) {
	s.getEntity(w, r, "", chi.URLParam(r, "feature"), nil)
}

func (s *Server) v1FeatureLineage(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	s.lineage(w, r, chi.URLParam(r, "feature"), limit)
}

func (s *Server) v1Search(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageV1(r)
	resp, ok := s.dispatch(w, r, statemachine.Request{
		Op:                 statemachine.OpSearch,
		Query:              r.URL.Query().Get("keyword"),
		ScopeQualifiedName: r.URL.Query().Get("scope"),
		SearchTypes:        searchTypes(r),
		Limit:              limit, Offset: offset,
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEntityDTOs(resp.Entities))
}
