package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinydb-go/tinydb/pkg/engine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tinydb")
	e, err := engine.Open(path, engine.Options{EnableJournaling: true, DatabaseName: "testdb"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return NewServer(e, Config{}, nil, nil)
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthAndStats(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestInsertFindUpdateDeleteOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/collections/widgets/documents", map[string]interface{}{"name": "bolt", "size": 3})
	require.Equal(t, http.StatusCreated, w.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id, ok := created["_id"].(string)
	require.True(t, ok)

	w = doRequest(s, http.MethodGet, "/collections/widgets/documents/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodPut, "/collections/widgets/documents/"+id, map[string]interface{}{"name": "bolt", "size": 5})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodDelete, "/collections/widgets/documents/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/collections/widgets/documents/"+id, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateIndexAndLookupOverHTTP(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/collections/users/indexes", map[string]interface{}{
		"name": "by_email", "fields": []string{"email"}, "unique": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(s, http.MethodPost, "/collections/users/documents", map[string]interface{}{"email": "a@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(s, http.MethodPost, "/collections/users/find", map[string]interface{}{
		"index": "by_email", "values": []interface{}{"a@example.com"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(1), resp["count"])
}

func TestCheckpointAndCompactOverHTTP(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/checkpoint", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodPost, "/compact", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodPost, "/flush", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
