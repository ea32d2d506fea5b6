package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webmodder/internal/domain/session"
	"github.com/GriffinCanCode/webmodder/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/fetch"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/webmodder/internal/providers/http/client"
	"github.com/GriffinCanCode/webmodder/internal/providers/modgen"
	"github.com/GriffinCanCode/webmodder/internal/shared/id"
)

const origin = `<!DOCTYPE html><html><head><title>Origin Page</title></head>` +
	`<body><h1 id="hero">Hello</h1><p class="lead">welcome</p></body></html>`

type stubGenerator struct {
	mu     sync.Mutex
	result *modgen.Result
	err    error
	last   modgen.Request
	during func()
}

func (g *stubGenerator) Generate(_ context.Context, req modgen.Request) (*modgen.Result, error) {
	if g.during != nil {
		g.during()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type testEnv struct {
	router  *gin.Engine
	origin  *httptest.Server
	dead    string
	manager *session.Manager
	metrics *monitoring.Metrics
}

func newTestEnv(t *testing.T, gen modgen.Generator) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// Large enough to cross the gzip threshold.
	page := strings.Replace(origin, "</body>", "<p>"+strings.Repeat("filler text ", 200)+"</p></body>", 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, page)
	}))
	t.Cleanup(srv.Close)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	opts := client.DefaultOptions()
	opts.Retries = 0
	opts.Timeout = 2 * time.Second
	fetcher, err := fetch.New([]fetch.Provider{fetch.NewDirect("direct", client.New(opts))})
	require.NoError(t, err)

	metrics := monitoring.NewMetrics()
	manager := session.NewManager(session.Options{
		Fetcher:  fetcher,
		Renderer: sandbox.NewRenderer(sandbox.DefaultConfig()),
		Metrics:  metrics,
	}).WithGauge(metrics)
	t.Cleanup(manager.Close)

	deps := Deps{Sessions: manager, Metrics: metrics, Providers: fetcher.Providers()}
	if gen != nil {
		deps.Generator = gen
	}
	h := NewHandlers(deps)

	router := gin.New()
	h.Register(router)

	return &testEnv{router: router, origin: srv, dead: deadURL, manager: manager, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) create(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	return decodeSnapshot(t, w).ID
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), Version)

	env.create(t)
	w = env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health struct {
		Status    string   `json:"status"`
		Sessions  int      `json:"sessions"`
		Providers []string `json:"providers"`
		Generator struct {
			Enabled bool `json:"enabled"`
		} `json:"generator"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Sessions)
	assert.Equal(t, []string{"direct"}, health.Providers)
	assert.False(t, health.Generator.Enabled)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.create(t)

	w := env.do(t, http.MethodGet, "/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.StateIdle, decodeSnapshot(t, w).State)

	w = env.do(t, http.MethodGet, "/sessions", nil)
	assert.Contains(t, w.Body.String(), sid)

	w = env.do(t, http.MethodDelete, "/sessions/"+sid, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateWithAddressNavigates(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/sessions", gin.H{"address": env.origin.URL})
	require.Equal(t, http.StatusCreated, w.Code)

	snap := decodeSnapshot(t, w)
	assert.Equal(t, session.StateRendered, snap.State)
	assert.Equal(t, "Origin Page", snap.Title)
}

func TestNavigateErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.create(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "missing address", body: gin.H{}, want: http.StatusBadRequest},
		{name: "blank address", body: gin.H{"address": "   "}, want: http.StatusBadRequest},
		{name: "unsupported scheme", body: gin.H{"address": "ftp://example.com"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}

	w := env.do(t, http.MethodPost, "/sessions/unknown/navigate", gin.H{"address": env.origin.URL})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/bad$id/navigate", gin.H{"address": env.origin.URL})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", gin.H{"address": "example.com\r\nX: y"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNavigateUnreachableRendersPlaceholder(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.create(t)

	w := env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", gin.H{"address": env.dead})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var body struct {
		Error   string           `json:"error"`
		Session session.Snapshot `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, session.StateFailed, body.Session.State)
	assert.NotEmpty(t, body.Session.Error)

	w = env.do(t, http.MethodGet, "/sessions/"+sid+"/frame", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "This page could not be accessed")

	w = env.do(t, http.MethodDelete, "/sessions/"+sid+"/error", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeSnapshot(t, w).Error)
}

func TestPatchesAndFrame(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.create(t)

	w := env.do(t, http.MethodPost, "/sessions/"+sid+"/patches", gin.H{"css": "h1{color:red}"})
	assert.Equal(t, http.StatusConflict, w.Code, "no page yet")
	w = env.do(t, http.MethodGet, "/sessions/"+sid+"/frame", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", gin.H{"address": env.origin.URL})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/"+sid+"/patches", gin.H{"js": strings.Repeat("x", 256*1024+1)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/"+sid+"/patches", gin.H{
		"css": "h1{color:red}",
		"js":  "document.getElementById('hero').textContent = 'Patched';",
	})
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.Equal(t, 1, snap.CSSCount)
	assert.Equal(t, 1, snap.JSCount)

	w = env.do(t, http.MethodGet, "/sessions/"+sid+"/frame", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sandbox allow-scripts", w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "allow-scripts", w.Header().Get("X-Preview-Sandbox"))
	assert.Equal(t, snap.HandleID, w.Header().Get("X-Preview-Handle"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	doc := w.Body.String()
	assert.Contains(t, doc, `<base href="`+env.origin.URL)
	assert.Contains(t, doc, "h1{color:red}")
	assert.Contains(t, doc, `data-preview-patch="0"`)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sid+"/frame", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())

	w = env.do(t, http.MethodGet, "/sessions/"+sid+"/diagnostics?wait=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary sandbox.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.True(t, summary.Finished)
	require.NotEmpty(t, summary.DOMChanges)
	assert.Equal(t, "set_text", summary.DOMChanges[0].Type)
	assert.Equal(t, "Patched", summary.DOMChanges[0].Value)
}

func TestFrameIsGzipped(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.create(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", gin.H{"address": env.origin.URL}).Code)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sid+"/frame", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "sandbox allow-scripts", w.Header().Get("Content-Security-Policy"))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "filler text")
}

func TestScriptErrorsReachDiagnostics(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.create(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", gin.H{"address": env.origin.URL}).Code)

	w := env.do(t, http.MethodPost, "/sessions/"+sid+"/patches", gin.H{"js": "null.boom();"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/sessions/"+sid+"/diagnostics?wait=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(sandbox.KindScriptError))
}

func TestReload(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.create(t)

	w := env.do(t, http.MethodPost, "/sessions/"+sid+"/reload", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", gin.H{"address": env.origin.URL}).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions/"+sid+"/patches", gin.H{"css": "p{}"}).Code)

	w = env.do(t, http.MethodPost, "/sessions/"+sid+"/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.Equal(t, session.StateRendered, snap.State)
	assert.Zero(t, snap.CSSCount, "patches do not survive a reload")
}

func TestModifyDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.create(t)

	w := env.do(t, http.MethodPost, "/sessions/"+sid+"/modify", ModifyRequest{Request: "hide ads"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestModifyAppliesFiles(t *testing.T) {
	gen := &stubGenerator{result: &modgen.Result{
		Explanation: "Turns the heading red.",
		Files: []modgen.File{
			{Name: "manifest.json", Language: "json", Content: `{"manifest_version":3}`},
			{Name: "style.css", Language: "css", Content: "h1{color:red}"},
			{Name: "content.js", Language: "javascript", Content: "document.body.classList.add('modded');"},
		},
	}}
	env := newTestEnv(t, gen)
	sid := env.create(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", gin.H{"address": env.origin.URL}).Code)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	w := env.do(t, http.MethodPost, "/sessions/"+sid+"/modify", ModifyRequest{
		Request:     "make the heading red",
		ImageBase64: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		Kind:        "chrome_extension",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ModifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Applied)
	assert.Len(t, resp.Project.Files, 3)
	assert.Equal(t, "Mod: make the headin...", resp.Project.Title)
	assert.Equal(t, "Turns the heading red.", resp.Project.Explanation)
	assert.Equal(t, 1, resp.Session.CSSCount)
	assert.Equal(t, 1, resp.Session.JSCount)

	gen.mu.Lock()
	last := gen.last
	gen.mu.Unlock()
	assert.Equal(t, modgen.KindChromeExtension, last.Kind)
	assert.Equal(t, png, last.Image)
	assert.Contains(t, last.PageSource, "Origin Page")
}

func TestModifyDropsFilesForReplacedPage(t *testing.T) {
	gen := &stubGenerator{result: &modgen.Result{
		Explanation: "Colours the page.",
		Files:       []modgen.File{{Name: "style.css", Language: "css", Content: ".x{color:red}"}},
	}}
	env := newTestEnv(t, gen)
	sid := env.create(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", gin.H{"address": env.origin.URL + "/a"}).Code)

	// The user moves on while the generator is still working.
	gen.during = func() {
		ctrl, ok := env.manager.Get(id.SessionID(sid))
		require.True(t, ok)
		require.NoError(t, ctrl.Navigate(context.Background(), env.origin.URL+"/b"))
	}

	w := env.do(t, http.MethodPost, "/sessions/"+sid+"/modify", ModifyRequest{Request: "make it red"})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), session.ErrStalePage.Error())

	snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/sessions/"+sid, nil))
	assert.Equal(t, env.origin.URL+"/b", snap.URL)
	assert.Zero(t, snap.CSSCount)

	frame := env.do(t, http.MethodGet, "/sessions/"+sid+"/frame", nil)
	require.Equal(t, http.StatusOK, frame.Code)
	assert.NotContains(t, frame.Body.String(), ".x{color:red}")
}

func TestModifyInspectorDoesNotApply(t *testing.T) {
	gen := &stubGenerator{result: &modgen.Result{
		Explanation: "The heading is an h1.",
		Files:       []modgen.File{{Name: "probe.js", Language: "javascript", Content: "1"}},
	}}
	env := newTestEnv(t, gen)
	sid := env.create(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions/"+sid+"/navigate", gin.H{"address": env.origin.URL}).Code)

	w := env.do(t, http.MethodPost, "/sessions/"+sid+"/modify", ModifyRequest{Request: "how is the heading styled", Mode: "inspector"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp ModifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Applied)
	assert.Zero(t, resp.Session.JSCount)
	assert.True(t, strings.HasPrefix(resp.Project.Title, "Analysis: "))
}

func TestModifyErrors(t *testing.T) {
	gen := &stubGenerator{err: fmt.Errorf("%w: quota exceeded", modgen.ErrUpstream)}
	env := newTestEnv(t, gen)
	sid := env.create(t)

	tests := []struct {
		name string
		body ModifyRequest
		want int
	}{
		{name: "empty request", body: ModifyRequest{}, want: http.StatusBadRequest},
		{name: "bad base64", body: ModifyRequest{Request: "x", ImageBase64: "!!!"}, want: http.StatusBadRequest},
		{name: "unknown kind", body: ModifyRequest{Request: "x", Kind: "bookmarklet"}, want: http.StatusBadRequest},
		{name: "upstream failure", body: ModifyRequest{Request: "x"}, want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/sessions/"+sid+"/modify", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestStreamLogs(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.create(t)
	patch := 0

	w := env.do(t, http.MethodPost, "/sessions/"+sid+"/logs", UILogStreamRequest{
		Source:  "frame",
		Entries: []UILogEntry{{ID: "1", Level: "error", Message: "Injected Script Error", Patch: &patch}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entries_processed":1`)

	w = env.do(t, http.MethodPost, "/sessions/"+sid+"/logs", UILogStreamRequest{Source: "kernel", Entries: []UILogEntry{{ID: "1"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/sessions/"+sid+"/logs", UILogStreamRequest{Source: "ui"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrInvalidAddress, http.StatusBadRequest},
		{session.ErrBlockedHost, http.StatusBadRequest},
		{session.ErrNoPage, http.StatusConflict},
		{session.ErrStalePage, http.StatusConflict},
		{session.ErrClosed, http.StatusGone},
		{modgen.ErrDisabled, http.StatusServiceUnavailable},
		{&fetch.FetchError{Target: "https://x.test"}, http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("something else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
