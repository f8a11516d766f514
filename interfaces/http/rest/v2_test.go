package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestV2ListProjectsUsesSizeOffsetPagination(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		body, _ := json.Marshal(map[string]string{"name": name})
		resp, err := http.Post(srv.URL+"/v1/projects", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/v2/projects?size=2&offset=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var names []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	require.Len(t, names, 2)
	require.Equal(t, []string{"beta", "gamma"}, names)
}

func TestV2VersionsEndpointListsAllVersions(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"name": "fraud_detection"})
	resp, err := http.Post(srv.URL+"/v1/projects", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var proj entityDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&proj))
	resp.Body.Close()

	versionsResp, err := http.Get(srv.URL + "/v2/projects/" + proj.QualifiedName + "/versions")
	require.NoError(t, err)
	defer versionsResp.Body.Close()
	require.Equal(t, http.StatusOK, versionsResp.StatusCode)

	var versions []entityDTO
	require.NoError(t, json.NewDecoder(versionsResp.Body).Decode(&versions))
	require.Len(t, versions, 1)
	require.Equal(t, int64(1), versions[0].Version)
}

func TestV2GetLatestVersion(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"name": "fraud_detection"})
	resp, err := http.Post(srv.URL+"/v1/projects", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var proj entityDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&proj))
	resp.Body.Close()

	latestResp, err := http.Get(srv.URL + "/v2/projects/" + proj.QualifiedName + "/versions/latest")
	require.NoError(t, err)
	defer latestResp.Body.Close()
	require.Equal(t, http.StatusOK, latestResp.StatusCode)
}
