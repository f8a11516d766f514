package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brain2-backend/internal/graph"
	"brain2-backend/internal/rbac"
	"brain2-backend/internal/router"
	"brain2-backend/internal/search"
	"brain2-backend/internal/statemachine"
	"brain2-backend/internal/storage"
)

// fakeLeaderNode is always its own leader and applies directly against the
// in-process machine, letting these tests exercise the full HTTP→router→
// state-machine path without a real raft.Raft instance.
type fakeLeaderNode struct {
	m       *statemachine.Machine
	applied uint64
}

func (n *fakeLeaderNode) IsLeader() bool                { return true }
func (n *fakeLeaderNode) LeaderAddress() (string, bool) { return "", false }
func (n *fakeLeaderNode) AppliedIndex() uint64           { return n.applied }
func (n *fakeLeaderNode) Apply(req statemachine.Request, _ time.Duration) (statemachine.Response, error) {
	n.applied++
	return n.m.Apply(context.Background(), req), nil
}

func newTestServer(t *testing.T) *httptest.Server {
	idx, err := search.New()
	require.NoError(t, err)
	m := statemachine.New(graph.New(), idx, rbac.New(), storage.Noop{})
	r := router.New(&fakeLeaderNode{m: m}, m)
	handler := NewHandler(NewServer(r, zap.NewNop()))
	return httptest.NewServer(handler)
}

func TestV1CreateAndGetProject(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"name": "fraud_detection"})
	resp, err := http.Post(srv.URL+"/v1/projects", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created entityDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, "fraud_detection", created.Name)
	require.Equal(t, "fraud_detection", created.QualifiedName)

	getResp, err := http.Get(srv.URL + "/v1/projects/" + created.GUID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestV1CreateSourceUnderProject(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	projBody, _ := json.Marshal(map[string]string{"name": "fraud_detection"})
	projResp, err := http.Post(srv.URL+"/v1/projects", "application/json", bytes.NewReader(projBody))
	require.NoError(t, err)
	var proj entityDTO
	require.NoError(t, json.NewDecoder(projResp.Body).Decode(&proj))
	projResp.Body.Close()

	srcBody, _ := json.Marshal(map[string]interface{}{
		"name": "transactions",
		"type": "postgres",
	})
	srcResp, err := http.Post(srv.URL+"/v1/projects/"+proj.QualifiedName+"/datasources", "application/json", bytes.NewReader(srcBody))
	require.NoError(t, err)
	defer srcResp.Body.Close()
	require.Equal(t, http.StatusCreated, srcResp.StatusCode)

	var src entityDTO
	require.NoError(t, json.NewDecoder(srcResp.Body).Decode(&src))
	require.Equal(t, "fraud_detection__transactions", src.QualifiedName)

	listResp, err := http.Get(srv.URL + "/v1/projects/" + proj.QualifiedName + "/datasources")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var list []entityDTO
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list, 1)
	require.Equal(t, "transactions", list[0].Name)
}

func TestV1DeleteProject(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	projBody, _ := json.Marshal(map[string]string{"name": "scratch"})
	projResp, err := http.Post(srv.URL+"/v1/projects", "application/json", bytes.NewReader(projBody))
	require.NoError(t, err)
	var proj entityDTO
	require.NoError(t, json.NewDecoder(projResp.Body).Decode(&proj))
	projResp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/projects/"+proj.QualifiedName, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)
}

// TestV1SearchHonorsScopeAndTypes covers the /search endpoint's scope and
// types query params: a keyword match against features in two projects
// must return only the project1, AnchorFeature-typed hit.
func TestV1SearchHonorsScopeAndTypes(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	createProject := func(name string) entityDTO {
		body, _ := json.Marshal(map[string]string{"name": name})
		resp, err := http.Post(srv.URL+"/v1/projects", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var e entityDTO
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
		return e
	}
	createSource := func(proj entityDTO, name string) entityDTO {
		body, _ := json.Marshal(map[string]interface{}{"name": name, "type": "hdfs"})
		resp, err := http.Post(srv.URL+"/v1/projects/"+proj.QualifiedName+"/datasources", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var e entityDTO
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
		return e
	}
	createAnchor := func(proj, source entityDTO, name string) entityDTO {
		body, _ := json.Marshal(map[string]string{"name": name, "source": source.GUID})
		resp, err := http.Post(srv.URL+"/v1/projects/"+proj.QualifiedName+"/anchors", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var e entityDTO
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
		return e
	}
	createAnchorFeature := func(anchor entityDTO, name string) entityDTO {
		body, _ := json.Marshal(map[string]interface{}{
			"name":           name,
			"featureType":    map[string]string{"tensorCategory": "DENSE", "valueType": "INT32"},
			"transformation": map[string]string{"type": "EXPRESSION", "expression": "req_count"},
		})
		resp, err := http.Post(srv.URL+"/v1/anchors/"+anchor.GUID+"/features", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var e entityDTO
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
		return e
	}

	proj1 := createProject("proj1")
	proj2 := createProject("proj2")
	src1 := createSource(proj1, "req_source")
	src2 := createSource(proj2, "req_source")
	anchor1 := createAnchor(proj1, src1, "req_anchor")
	anchor2 := createAnchor(proj2, src2, "req_anchor")
	feat1 := createAnchorFeature(anchor1, "req_feature")
	createAnchorFeature(anchor2, "req_feature")

	url := srv.URL + "/v1/search?keyword=req&scope=" + proj1.GUID + "&types=AnchorFeature"
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hits []entityDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hits))
	require.Len(t, hits, 1)
	require.Equal(t, feat1.GUID, hits[0].GUID)
}

func TestV1CreateProjectValidationFailure(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{})
	resp, err := http.Post(srv.URL+"/v1/projects", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
