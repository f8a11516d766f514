package rest

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"brain2-backend/domain"
	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/statemachine"
)

// MountV2 attaches the v2 surface under r: size/offset pagination, explicit
// /versions and /versions/{version|latest} sub-routes instead of v1's
// inline ":version" suffix, and an optional ?sort= query param.
func MountV2(router chi.Router, s *Server) {
	router.Route("/v2", func(r chi.Router) {
		r.Get("/projects", s.v2ListProjects)
		r.Post("/projects", s.v1CreateProject)
		r.Get("/projects/{project}", s.v1GetProject)
		r.Delete("/projects/{project}", s.v1DeleteProject)
		r.Get("/projects/{project}/lineage", s.v1ProjectLineage)
		r.Get("/projects/{project}/versions", s.v2ListVersions)
		r.Get("/projects/{project}/versions/{version}", s.v2GetVersion("project"))

		r.Get("/projects/{project}/datasources", s.v2ListChildren(domain.EntityTypeSource))
		r.Post("/projects/{project}/datasources", s.v1CreateSource)
		r.Get("/projects/{project}/datasources/{datasource}", s.v1GetChild(domain.EntityTypeSource, "datasource"))
		r.Delete("/projects/{project}/datasources/{datasource}", s.v1DeleteChild("datasource"))
		r.Get("/projects/{project}/datasources/{datasource}/versions", s.v2ListVersionsParam("datasource"))
		r.Get("/projects/{project}/datasources/{datasource}/versions/{version}", s.v2GetVersion("datasource"))

		r.Get("/projects/{project}/anchors", s.v2ListChildren(domain.EntityTypeAnchor))
		r.Post("/projects/{project}/anchors", s.v1CreateAnchor)
		r.Get("/projects/{project}/anchors/{anchor}", s.v1GetChild(domain.EntityTypeAnchor, "anchor"))
		r.Delete("/projects/{project}/anchors/{anchor}", s.v1DeleteChild("anchor"))
		r.Get("/projects/{project}/anchors/{anchor}/versions", s.v2ListVersionsParam("anchor"))
		r.Get("/projects/{project}/anchors/{anchor}/versions/{version}", s.v2GetVersion("anchor"))

		r.Get("/anchors/{anchor}/features", s.v2ListAnchorFeatures)
		r.Post("/anchors/{anchor}/features", s.v1CreateAnchorFeature)
		r.Get("/anchors/{anchor}/features/{feature}", s.v1GetChild(domain.EntityTypeAnchorFeature, "feature"))
		r.Delete("/anchors/{anchor}/features/{feature}", s.v1DeleteChild("feature"))
		r.Get("/anchors/{anchor}/features/{feature}/versions", s.v2ListVersionsParam("feature"))
		r.Get("/anchors/{anchor}/features/{feature}/versions/{version}", s.v2GetVersion("feature"))

		r.Get("/projects/{project}/derivedfeatures", s.v2ListChildren(domain.EntityTypeDerivedFeature))
		r.Post("/projects/{project}/derivedfeatures", s.v1CreateDerivedFeature)
		r.Get("/projects/{project}/derivedfeatures/{feature}", s.v1GetChild(domain.EntityTypeDerivedFeature, "feature"))
		r.Delete("/projects/{project}/derivedfeatures/{feature}", s.v1DeleteChild("feature"))
		r.Get("/projects/{project}/derivedfeatures/{feature}/versions", s.v2ListVersionsParam("feature"))
		r.Get("/projects/{project}/derivedfeatures/{feature}/versions/{version}", s.v2GetVersion("feature"))

		r.Get("/features/{feature}", s.v1GetFeature)
		r.Get("/features/{feature}/lineage", s.v1FeatureLineage)
		r.Get("/features/{feature}/versions", s.v2ListVersionsParam("feature"))
		r.Get("/features/{feature}/versions/{version}", s.v2GetVersion("feature"))

		r.Get("/search", s.v2Search)
	})
}

func sortEntities(entities []domain.Entity, sortKey string) {
	switch sortKey {
	case "createdOn":
		sort.Slice(entities, func(i, j int) bool { return entities[i].CreatedOn.Before(entities[j].CreatedOn) })
	default:
		sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	}
}

func (s *Server) v2ListProjects(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageV2(r)
	resp, ok := s.dispatch(w, r, statemachine.Request{
		Op: statemachine.OpList, EntityType: domain.EntityTypeProject, Query: r.URL.Query().Get("keyword"),
	})
	if !ok {
		return
	}
	entities := append([]domain.Entity{}, resp.Entities...)
	sortEntities(entities, r.URL.Query().Get("sort"))
	writeJSON(w, http.StatusOK, qualifiedNames(paginate(entities, limit, offset)))
}

func (s *Server) v2ListChildren(entityType domain.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, rerr := s.resolveScope(r, chi.URLParam(r, "project"))
		if rerr != nil {
			writeErr(w, rerr)
			return
		}
		resp, ok := s.dispatch(w, r, statemachine.Request{
			Op: statemachine.OpList, EntityType: entityType, ScopeQualifiedName: project.QualifiedName,
			Query: r.URL.Query().Get("keyword"),
		})
		if !ok {
			return
		}
		limit, offset := pageV2(r)
		entities := append([]domain.Entity{}, resp.Entities...)
		sortEntities(entities, r.URL.Query().Get("sort"))
		writeJSON(w, http.StatusOK, toEntityDTOs(paginate(entities, limit, offset)))
	}
}

func (s *Server) v2ListAnchorFeatures(w http.ResponseWriter, r *http.Request) {
	anchor, rerr := s.resolveScope(r, chi.URLParam(r, "anchor"))
	if rerr != nil {
		writeErr(w, rerr)
		return
	}
	resp, ok := s.dispatch(w, r, statemachine.Request{
		Op: statemachine.OpList, EntityType: domain.EntityTypeAnchorFeature, ScopeQualifiedName: anchor.QualifiedName,
		Query: r.URL.Query().Get("keyword"),
	})
	if !ok {
		return
	}
	limit, offset := pageV2(r)
	entities := append([]domain.Entity{}, resp.Entities...)
	sortEntities(entities, r.URL.Query().Get("sort"))
	writeJSON(w, http.StatusOK, toEntityDTOs(paginate(entities, limit, offset)))
}

func (s *Server) v2ListVersions(w http.ResponseWriter, r *http.Request) {
	s.v2ListVersionsParam("project")(w, r)
}

func (s *Server) v2ListVersionsParam(param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.listVersions(w, r, chi.URLParam(r, param))
	}
}

// v2GetVersion reads an explicit {version} path segment, treating "latest"
// as an unversioned lookup.
func (s *Server) v2GetVersion(param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "version")
		var version *int64
		if raw != "latest" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeErr(w, registryerr.BadRequestf("invalid version %q", raw))
				return
			}
			version = &v
		}
		s.getEntity(w, r, "", chi.URLParam(r, param), version)
	}
}

func (s *Server) v2Search(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageV2(r)
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
