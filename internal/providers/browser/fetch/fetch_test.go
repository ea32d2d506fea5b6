package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/webmodder/internal/providers/http/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageHTML = `<!DOCTYPE html><html><head><title> Demo  Page </title></head><body><p>hello</p></body></html>`

type stubProvider struct {
	name  string
	html  string
	err   error
	delay time.Duration
	calls int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(ctx context.Context, target string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.html, s.err
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveFetchAttempt(provider, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, provider+":"+outcome)
}

func testClient() *client.Client {
	opts := client.DefaultOptions()
	opts.Retries = 0
	opts.Timeout = 2 * time.Second
	return client.New(opts)
}

func TestFailoverToSecondProvider(t *testing.T) {
	// provider[0] raises a transport error: nothing listens on a closed server.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(pageHTML))
	}))
	defer origin.Close()

	c := testClient()
	obs := &recordingObserver{}
	f, err := New([]Provider{
		NewRawRelay("broken-relay", deadURL+"/?url={url}", c),
		NewDirect("direct", c),
	}, WithObserver(obs))
	require.NoError(t, err)

	res, err := f.Fetch(context.Background(), origin.URL)
	require.NoError(t, err)
	assert.Equal(t, pageHTML, res.HTML)
	assert.Equal(t, "Demo Page", res.Title)
	assert.Equal(t, origin.URL, res.URL)
	assert.Equal(t, []string{"broken-relay:network", "direct:success"}, obs.outcomes)
}

func TestSequentialStopsAtFirstSuccess(t *testing.T) {
	first := &stubProvider{name: "first", html: pageHTML}
	second := &stubProvider{name: "second", html: pageHTML}

	f, err := New([]Provider{first, second})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "https://demo.test/a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&first.calls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&second.calls))
}

func TestAllProvidersFail(t *testing.T) {
	f, err := New([]Provider{
		&stubProvider{name: "a", err: errors.Join(ErrNetwork, errors.New("connection refused"))},
		&stubProvider{name: "b", html: "   "},
	})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "https://demo.test/")
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.ErrorIs(t, err, ErrEmptyContent, "last cause is the blank body")
	require.Len(t, fe.Attempts, 2)
	assert.Equal(t, "network", fe.Attempts[0].Outcome())
	assert.Equal(t, "empty", fe.Attempts[1].Outcome())
	assert.Contains(t, fe.Reason(), "blank markup")
	assert.Contains(t, fe.Error(), "tried a, b")
}

func TestRaceTakesFirstSuccessAndCancelsRest(t *testing.T) {
	slow := &stubProvider{name: "slow", html: "<p>slow</p>", delay: 2 * time.Second}
	fast := &stubProvider{name: "fast", html: "<p>fast</p>", delay: 10 * time.Millisecond}

	f, err := New([]Provider{slow, fast}, WithStrategy(Race))
	require.NoError(t, err)

	start := time.Now()
	res, err := f.Fetch(context.Background(), "https://demo.test/")
	require.NoError(t, err)
	assert.Equal(t, "<p>fast</p>", res.HTML)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRaceAllFail(t *testing.T) {
	f, err := New([]Provider{
		&stubProvider{name: "a", err: ErrNetwork},
		&stubProvider{name: "b", err: ErrNetwork},
	}, WithStrategy(Race))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "https://demo.test/")
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestOpenBreakerSkipsProvider(t *testing.T) {
	flaky := &stubProvider{name: "flaky", err: ErrNetwork}
	good := &stubProvider{name: "good", html: pageHTML}

	f, err := New([]Provider{flaky, good})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.Fetch(context.Background(), "https://demo.test/")
		require.NoError(t, err)
	}
	_, err = f.Fetch(context.Background(), "https://demo.test/")
	require.NoError(t, err)

	assert.Equal(t, int32(5), atomic.LoadInt32(&flaky.calls), "breaker opened after five failures")
	assert.Equal(t, int32(6), atomic.LoadInt32(&good.calls))
}

func TestFetchRejectsRelativeTargets(t *testing.T) {
	f, err := New([]Provider{&stubProvider{name: "a", html: pageHTML}})
	require.NoError(t, err)

	for _, target := range []string{"example.org", "/path", "ftp://example.org", "https://"} {
		_, err := f.Fetch(context.Background(), target)
		assert.ErrorIs(t, err, ErrInvalidTarget, target)
	}
}

func TestFetchCancelled(t *testing.T) {
	f, err := New([]Provider{&stubProvider{name: "slow", html: pageHTML, delay: time.Second}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = f.Fetch(ctx, "https://demo.test/")
	assert.Error(t, err)
	var fe *FetchError
	assert.False(t, errors.As(err, &fe), "cancellation is not provider exhaustion")
}

func TestNewRequiresProviders(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestJSONRelay(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		wantErr error
		want    string
	}{
		{name: "contents", body: `{"contents":"<html><body>ok</body></html>","status":{"http_code":200}}`, status: 200, want: "<html><body>ok</body></html>"},
		{name: "origin error", body: `{"contents":"","status":{"http_code":404}}`, status: 200, wantErr: ErrNetwork},
		{name: "missing contents", body: `{"status":{}}`, status: 200, wantErr: ErrEmptyContent},
		{name: "malformed", body: `<html>`, status: 200, wantErr: ErrNetwork},
		{name: "relay down", body: `oops`, status: 503, wantErr: ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.Query().Get("url")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewJSONRelay("allorigins", srv.URL+"/get?url={url}", testClient())
			html, err := p.Fetch(context.Background(), "https://demo.test/a?b=c")
			assert.Equal(t, "https://demo.test/a?b=c", gotQuery)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, html)
		})
	}
}

func TestRelayEndpoint(t *testing.T) {
	assert.Equal(t, "https://relay.test/?url=https%3A%2F%2Fa.test%2F", relayEndpoint("https://relay.test/?url={url}", "https://a.test/"))
	assert.Equal(t, "https://relay.test/raw?https%3A%2F%2Fa.test%2F", relayEndpoint("https://relay.test/raw?", "https://a.test/"))
}

func TestDecodeBody(t *testing.T) {
	t.Run("utf8", func(t *testing.T) {
		text, err := DecodeBody([]byte("<html><body>café</body></html>"), "text/html; charset=utf-8")
		require.NoError(t, err)
		assert.Contains(t, text, "café")
	})

	t.Run("latin1 from header", func(t *testing.T) {
		body := []byte("<html><body>caf\xe9</body></html>")
		text, err := DecodeBody(body, "text/html; charset=iso-8859-1")
		require.NoError(t, err)
		assert.Contains(t, text, "café")
	})

	t.Run("binary rejected", func(t *testing.T) {
		png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")
		_, err := DecodeBody(png, "image/png")
		assert.ErrorIs(t, err, ErrEmptyContent)
	})

	t.Run("whitespace rejected", func(t *testing.T) {
		_, err := DecodeBody([]byte("  \n\t "), "text/html")
		assert.ErrorIs(t, err, ErrEmptyContent)
	})
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Demo Page", Title(pageHTML, "https://demo.test/"))
	assert.Equal(t, "demo.test", Title("<p>no title</p>", "https://demo.test/x"))
}

func TestLoadSpecs(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
providers:
  - name: allorigins
    kind: json
    endpoint: https://api.allorigins.win/get?url={url}
  - name: origin
    kind: direct
`), 0o600))

	specs, err := LoadSpecs(yamlPath)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, KindJSON, specs[0].Kind)
	assert.Equal(t, KindDirect, specs[1].Kind)

	tomlPath := filepath.Join(dir, "providers.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[[providers]]
name = "corsproxy"
kind = "raw"
endpoint = "https://corsproxy.io/?url={url}"
`), 0o600))

	specs, err = LoadSpecs(tomlPath)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "corsproxy", specs[0].Name)

	providers, err := Build(specs, testClient())
	require.NoError(t, err)
	assert.Equal(t, "corsproxy", providers[0].Name())
}

func TestLoadSpecsRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	cases := map[string]string{
		"empty":        write("empty.yaml", "providers: []\n"),
		"unknown kind": write("kind.yaml", "providers:\n  - name: x\n    kind: carrier-pigeon\n"),
		"no endpoint":  write("endpoint.yaml", "providers:\n  - name: x\n    kind: raw\n"),
		"duplicate":    write("dup.yaml", "providers:\n  - name: x\n    kind: direct\n  - name: x\n    kind: direct\n"),
		"extension":    write("providers.ini", "x"),
	}
	for name, path := range cases {
		_, err := LoadSpecs(path)
		assert.Error(t, err, name)
	}
}

func TestDefaultSpecsAreValid(t *testing.T) {
	specs := DefaultSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, KindJSON, specs[0].Kind)
	assert.Equal(t, KindRaw, specs[1].Kind)
	for _, s := range specs {
		assert.NoError(t, s.Validate())
	}
}
