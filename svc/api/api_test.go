package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"pastebin/cfg"
	"pastebin/pkg/domain"
	"pastebin/svc/blob"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/pool"
	"pastebin/svc/svc"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	srv   *Server
	clock *clock
	cfg   *cfg.Cfg
}

func newTestEnv(t *testing.T, mutate func(*cfg.Cfg, *Deps)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	meta, err := db.NewSQLite(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	content, err := blob.OpenBolt(filepath.Join(dir, "content.db"), "pastes")
	require.NoError(t, err)
	t.Cleanup(func() { content.Close() })

	clk := &clock{t: time.Now().UTC().Truncate(time.Second)}
	kv, err := cache.NewLocal(1000)
	require.NoError(t, err)
	kv.SetClock(clk.Now)

	c := &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		BaseURL:        "https://paste.test",
		ContextTimeout: 5 * time.Second,
		MaxPasteSize:   1024,
		DefaultTTL:     24 * time.Hour,
		MinTTL:         time.Hour,
		MaxTTL:         720 * time.Hour,
		TokenLength:    8,
	}
	deps := Deps{Database: meta, Content: content}
	if mutate != nil {
		mutate(c, &deps)
	}
	alloc := pool.NewAllocator(kv, pool.NewStore(meta, c.TokenLength), cfg.PoolCfg{LowWater: 5, BatchSize: 20})
	t.Cleanup(alloc.Close)
	p := svc.NewPaste(meta, content, cache.NewPaste(kv, c.Cache), alloc, c, svc.WithClock(clk.Now))
	return &testEnv{srv: NewServer(c, p, alloc, deps), clock: clk, cfg: c}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) create(t *testing.T, body string) domain.CreateResult {
	t.Helper()
	rec := e.do(http.MethodPost, "/api/pastes", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res domain.CreateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

type errEnvelope struct {
	Error struct {
		Code string                 `json:"code"`
		Msg  string                 `json:"message"`
		Meta map[string]interface{} `json:"meta"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) errEnvelope {
	t.Helper()
	var e errEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestCreateAndFetchPaste(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.create(t, `{"content":"package main","ttl":"2h","language":"go","title":"demo"}`)
	assert.Len(t, res.Token, 8)
	assert.Equal(t, "https://paste.test/"+res.Token, res.URL)
	assert.Equal(t, int64(7200), res.ExpiresInSeconds)

	rec := env.do(http.MethodGet, "/api/pastes/"+res.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	var view domain.PasteView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "package main", view.Content)
	assert.Equal(t, int64(1), view.ViewCount)
	assert.Equal(t, "go", view.Language)
	assert.Equal(t, "demo", view.Title)
	assert.Equal(t, int64(12), view.ContentSizeBytes)
}

func TestCreateRejections(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty content", `{"content":""}`, "CONTENT_REQUIRED"},
		{"unknown field", `{"content":"a","password":"x"}`, "INVALID_REQUEST"},
		{"bad ttl", `{"content":"a","ttl":"soon"}`, "INVALID_TTL"},
		{"ttl too short", `{"content":"a","ttl":"10m"}`, "INVALID_TTL"},
		{"too large", `{"content":"` + strings.Repeat("x", 2000) + `"}`, "PASTE_TOO_LARGE"},
		{"malformed", `{"content":`, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/pastes", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeErr(t, rec).Error.Code)
		})
	}
}

func TestCreateRequiresJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/pastes", strings.NewReader("content=a"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestGetUnknownAndMalformedToken(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/pastes/zzzzzzzz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PASTE_NOT_FOUND", decodeErr(t, rec).Error.Code)

	rec = env.do(http.MethodGet, "/api/pastes/bad-token!", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExpiredPasteIsGone(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.create(t, `{"content":"brief","ttl":"1h"}`)
	env.clock.Advance(2 * time.Hour)

	rec := env.do(http.MethodGet, "/api/pastes/"+res.Token, "")
	require.Equal(t, http.StatusGone, rec.Code)
	e := decodeErr(t, rec)
	assert.Equal(t, "PASTE_EXPIRED", e.Error.Code)
	assert.Equal(t, res.Token, e.Error.Meta["token"])
	assert.NotEmpty(t, e.Error.Meta["expired_at"])

	rec = env.do(http.MethodGet, "/api/pastes/"+res.Token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeletePaste(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.create(t, `{"content":"remove me"}`)

	rec := env.do(http.MethodDelete, "/api/pastes/"+res.Token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodDelete, "/api/pastes/"+res.Token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/pastes/"+res.Token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPoolStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.create(t, `{"content":"first"}`)

	rec := env.do(http.MethodGet, "/api/pool", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PoolResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.LowWater)
	assert.Greater(t, resp.Available, int64(0))
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.True(t, ready.Ready)
	assert.Equal(t, "up", ready.Database)
	assert.Equal(t, "up", ready.Content)
	assert.Equal(t, "local", ready.Cache)
}

func TestReadyReportsDownCache(t *testing.T) {
	env := newTestEnv(t, func(c *cfg.Cfg, d *Deps) {
		d.Cache = pingFunc(func(ctx context.Context) error { return errors.New("connection refused") })
	})

	rec := env.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.False(t, ready.Ready)
	assert.Equal(t, "down", ready.Cache)
}

func TestMetricsBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(c *cfg.Cfg, d *Deps) {
		c.MetricsUser = "prom"
		c.MetricsPass = cfg.NewSecret("scrape")
	})

	rec := env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "scrape")
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pastebin_paste_created_total")
}

func TestSanitizeContent(t *testing.T) {
	assert.Equal(t, "a\tb\nc", sanitizeContent("a\tb\x00\nc\x07"))
	assert.Equal(t, "\u00e9", sanitizeContent("e\u0301"))
}
