package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/internal/assemble"
	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/engine"
	"github.com/engram-memory/engram/internal/lexical"
	"github.com/engram-memory/engram/internal/store"
	"github.com/engram-memory/engram/pkg/types"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	dir := t.TempDir()
	table, err := store.OpenFileTable(filepath.Join(dir, "embeddings.json"))
	require.NoError(t, err)
	s, err := store.Open(dir, table, 64, zerolog.Nop())
	require.NoError(t, err)

	cfg := config.Load()
	e := engine.New(s, lexical.NewBM25Scorer(), nil, nil, cfg, zerolog.Nop())
	t.Cleanup(func() { _ = e.Close() })
	a := assemble.New(e, cfg.Assembler, zerolog.Nop())

	mux := http.NewServeMux()
	NewHandler(e, a, nil, zerolog.Nop()).Register(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success, "error: %s", env.Error)
	if v != nil {
		require.NoError(t, json.Unmarshal(env.Data, v))
	}
}

func TestMemoryCRUDOverHTTP(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/memories", createRequest{
		Type: types.TypeFact, Content: "the VPN gateway is vpn.internal", Confidence: 0.9,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created types.Memory
	decodeData(t, rec, &created)
	require.NotEmpty(t, created.ID)

	rec = doJSON(t, mux, http.MethodGet, "/api/memories/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.Memory
	decodeData(t, rec, &got)
	assert.Equal(t, created.Content, got.Content)
	assert.Equal(t, 1, got.AccessCount)

	rec = doJSON(t, mux, http.MethodPatch, "/api/memories/"+created.ID, map[string]interface{}{
		"category": "network",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated types.Memory
	decodeData(t, rec, &updated)
	assert.Equal(t, "network", updated.Category)

	rec = doJSON(t, mux, http.MethodDelete, "/api/memories/"+created.ID+"?hard=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/memories/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRejectsBadInput(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/memories", createRequest{
		Type: "rumor", Content: "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/memories", map[string]string{"bogus": "field"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestIngestAndApprovalFlow(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/ingest", ingestRequest{
		Candidates: []types.Candidate{
			{Type: types.TypeFact, Content: "trusted", Confidence: 0.95},
			{Type: types.TypeFact, Content: "uncertain", Confidence: 0.75},
			{Type: types.TypeFact, Content: "noise", Confidence: 0.3},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var report types.IngestReport
	decodeData(t, rec, &report)
	require.Len(t, report.Committed, 1)
	require.Len(t, report.PendingApproval, 1)
	assert.Equal(t, 1, report.Dropped)

	rec = doJSON(t, mux, http.MethodGet, "/api/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []types.IndexEntry
	decodeData(t, rec, &pending)
	require.Len(t, pending, 1)

	id := report.PendingApproval[0]
	rec = doJSON(t, mux, http.MethodPost, "/api/memories/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// approving again conflicts
	rec = doJSON(t, mux, http.MethodPost, "/api/memories/"+id+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSearchOverHTTP(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/memories", createRequest{
		Type: types.TypeFact, Content: "the release train leaves every thursday", Confidence: 0.9,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/search?q=release+train", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results []engine.SearchResult
	decodeData(t, rec, &results)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Memory.Content, "release train")

	rec = doJSON(t, mux, http.MethodGet, "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssembleOverHTTP(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/memories", createRequest{
		Type: types.TypePreference, Content: "keep commit messages under 72 chars", Confidence: 0.9, Importance: 0.9,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/assemble", assemble.Request{
		Task: "write a commit message",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var out assemble.Context
	decodeData(t, rec, &out)
	require.NotEmpty(t, out.Sections)
	assert.Equal(t, "preferences", out.Sections[0].Title)
	assert.Contains(t, out.Text, "- keep commit messages under 72 chars")
}

func TestStatsAndMaintenanceEndpoints(t *testing.T) {
	mux := newTestMux(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, mux, http.MethodPost, "/api/memories", createRequest{
			Type: types.TypeFact, Content: fmt.Sprintf("fact number %d", i), Confidence: 0.9,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st store.Stats
	decodeData(t, rec, &st)
	assert.Equal(t, 3, st.Total)

	rec = doJSON(t, mux, http.MethodPost, "/api/maintenance/decay", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, mux, http.MethodPost, "/api/maintenance/consolidate?dry_run=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, mux, http.MethodPost, "/api/maintenance/expired", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthInProduction(t *testing.T) {
	mux := newTestMux(t)
	handler := RequireAuth(config.SecurityConfig{Mode: "production", APIToken: "s3cret"}, mux)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDevelopmentModeSkipsAuth(t *testing.T) {
	mux := newTestMux(t)
	handler := RequireAuth(config.SecurityConfig{Mode: "development"}, mux)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitReturns429(t *testing.T) {
	mux := newTestMux(t)
	handler := RateLimit(1, 1, mux)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
