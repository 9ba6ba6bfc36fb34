package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/engine"
	"github.com/jsonjet/jsonjet/pkg/stream"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mgr := stream.NewManager(zap.NewNop())
	eng := engine.New(mgr, zap.NewNop(), engine.Options{})
	return NewServer(eng, nil, zap.NewNop())
}

func execute(t *testing.T, s *Server, query string) (*httptest.ResponseRecorder, *engine.Response) {
	t.Helper()
	body, err := json.Marshal(map[string]string{"query": query})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp engine.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, &resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExecuteRoundTrip(t *testing.T) {
	s := newTestServer(t)

	w, resp := execute(t, s, "create stream n; create stream r; create flow f as n | select {x: x, y: x * 2} | insert_into(r)")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = execute(t, s, "insert into n {x: 21}; flush n")
	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	_, resp = execute(t, s, "list streams")
	require.True(t, resp.Success)
	assert.Equal(t, []any{"n", "r"}, resp.Results[0])
}

func TestExecuteParseErrorStatus(t *testing.T) {
	s := newTestServer(t)
	w, resp := execute(t, s, "creat stream oops")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestExecuteBadBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListStreamsEndpoint(t *testing.T) {
	s := newTestServer(t)
	execute(t, s, "create stream a")

	req := httptest.NewRequest(http.MethodGet, "/api/streams", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Streams []string `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"a"}, body.Streams)
}
