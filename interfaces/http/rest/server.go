package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"brain2-backend/domain"
	"brain2-backend/internal/rbac"
	"brain2-backend/internal/registryerr"
	"brain2-backend/internal/router"
	"brain2-backend/internal/statemachine"
)

// RequestorHeader carries the caller identity used for created_by and RBAC.
const RequestorHeader = "x-registry-requestor"

// OptSeqHeader carries the client's applied-log read-after-write watermark.
const OptSeqHeader = "x-registry-opt-seq"

// Server holds the dependencies every v1/v2 handler needs: the request
// router (dispatch + leader/forward/opt_seq decision), a struct validator
// (go-playground/validator/v10), and a zap logger.
type Server struct {
	Router   *router.Router
	Logger   *zap.Logger
	Validate *validator.Validate
}

// NewServer builds a Server over an already-running router.
func NewServer(r *router.Router, logger *zap.Logger) *Server {
	return &Server{Router: r, Logger: logger, Validate: validator.New()}
}

func requestorFrom(r *http.Request) string {
	return r.Header.Get(RequestorHeader)
}

// credentialFrom builds the rbac.Credential a request carries from its
// requestor header. An absent header means RBAC is effectively disabled for
// this call, matching the all-allow RbacDisabled behavior.
func credentialFrom(r *http.Request) rbac.Credential {
	name := requestorFrom(r)
	if name == "" {
		return rbac.DisabledCredential
	}
	return rbac.Credential{Kind: rbac.CredentialUser, Name: name}
}

// optSeqFrom parses the x-registry-opt-seq header into the router's read-
// after-write watermark.
func optSeqFrom(r *http.Request) *uint64 {
	raw := r.Header.Get(OptSeqHeader)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeErr translates a *registryerr.Error into its HTTP representation
// via the error kind -> status mapping.
func writeErr(w http.ResponseWriter, err *registryerr.Error) {
	writeJSON(w, registryerr.ToHTTPStatus(err), errorDTO{
		Error:      string(err.Kind),
		Message:    err.Message,
		LeaderHint: err.LeaderHint,
	})
}

// dispatch sends req through the router, stamps the response's applied
// index onto a response header for opt_seq chaining, and returns whether
// the caller should continue handling a successful response.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req statemachine.Request) (statemachine.Response, bool) {
	req.Credential = credentialFrom(r)
	req.OptSeq = optSeqFrom(r)

	resp := s.Router.Handle(r.Context(), req)
	w.Header().Set("x-registry-applied-index", strconv.FormatUint(resp.AppliedIndex, 10))
	if resp.Err != nil {
		writeErr(w, resp.Err)
		return resp, false
	}
	return resp, true
}

// pageV1 implements v1's page/limit pagination: offset = (page-1) * limit.
func pageV1(r *http.Request) (limit, offset int) {
	limit = queryInt(r, "limit", 20)
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// pageV2 implements v2's size/offset pagination.
func pageV2(r *http.Request) (limit, offset int) {
	return queryInt(r, "size", 20), queryInt(r, "offset", 0)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// searchTypes reads a comma-separated ?types= query param into the entity
// types a search should be restricted to; an empty or absent param leaves
// the search unrestricted.
func searchTypes(r *http.Request) []domain.EntityType {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]domain.EntityType, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, domain.EntityType(p))
		}
	}
	return out
}

// paginate slices entities per limit/offset at the HTTP edge rather than in
// the state machine (the graph/search layers already return ordered
// results).
func paginate(entities []domain.Entity, limit, offset int) []domain.Entity {
	if offset >= len(entities) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(entities) {
		end = len(entities)
	}
	return entities[offset:end]
}

func qualifiedNames(entities []domain.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.QualifiedName
	}
	return out
}

// createPayload decodes a create request body shared by every entity kind,
// normalizing the wire tag-value interop (wireTagValue) to domain.Tags and
// filling CreatedBy from the x-registry-requestor header when the body
// omits it.
type createPayload struct {
	Name        string                  `json:"name" validate:"required"`
	Tags        map[string]wireTagValue `json:"tags,omitempty"`
	Description string                  `json:"description,omitempty"`
	CreatedBy   string                  `json:"createdBy,omitempty"`
}

func (c *createPayload) base() *createPayload { return c }

func (s *Server) decodeCreate(r *http.Request, out interface{ base() *createPayload }) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return registryerr.BadRequestf("invalid request body: %v", err)
	}
	if err := s.Validate.Struct(out); err != nil {
		return registryerr.BadRequestf("validation failed: %v", err)
	}
	base := out.base()
	if base.CreatedBy == "" {
		base.CreatedBy = requestorFrom(r)
	}
	return nil
}
