package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/webmodder/internal/providers/browser/compose"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/fetch"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/markup"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/patch"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/webmodder/internal/providers/modgen"
	"github.com/GriffinCanCode/webmodder/internal/shared/id"
	"go.uber.org/zap"
)

// State is the navigation state of a session
type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateRendered State = "rendered"
	StateFailed   State = "failed"
)

// Fetcher obtains a page's markup
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*fetch.HTMLResult, error)
}

// Renderer renders composed documents
type Renderer interface {
	Render(ctx context.Context, doc compose.Document, grant sandbox.Grant) (*sandbox.Handle, error)
	GrantFor(targetURL string) sandbox.Grant
}

// Metrics records navigation outcomes
type Metrics interface {
	ObserveNavigation(outcome string, d time.Duration)
	ObserveStaleResponse()
	ObservePatch(kind string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveNavigation(string, time.Duration) {}
func (nopMetrics) ObserveStaleResponse()                  {}
func (nopMetrics) ObservePatch(string)                    {}

// Page is the target page currently shown. It is replaced on navigation and
// never mutated. Generation identifies the navigation that loaded it.
type Page struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	RawHTML    string `json:"-"`
	Generation uint64 `json:"-"`
}

// Controller drives one preview session: navigation, patching and
// re-rendering of a single active page.
type Controller struct {
	id       id.SessionID
	fetcher  Fetcher
	renderer Renderer
	blocked  []string
	logger   *zap.Logger
	metrics  Metrics
	patches  *patch.Accumulator
	events   *broker
	created  time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	requestID  id.RequestID
	cancel     context.CancelFunc
	address    string
	page       *Page
	frag       markup.Fragments
	document   string
	handle     *sandbox.Handle
	banner     string
	updated    time.Time
	closed     bool
}

// Options are the collaborators of a controller
type Options struct {
	Fetcher      Fetcher
	Renderer     Renderer
	BlockedHosts []string
	Logger       *zap.Logger
	Metrics      Metrics
}

// NewController creates an idle session
func NewController(sid id.SessionID, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	now := time.Now()
	return &Controller{
		id:       sid,
		fetcher:  opts.Fetcher,
		renderer: opts.Renderer,
		blocked:  opts.BlockedHosts,
		logger:   logger.With(zap.String("session", sid.String())),
		metrics:  metrics,
		patches:  patch.NewAccumulator(),
		events:   newBroker(),
		created:  now,
		state:    StateIdle,
		updated:  now,
	}
}

// ID returns the session id
func (c *Controller) ID() id.SessionID {
	return c.id
}

// Navigate loads the page named by input. A later Navigate supersedes this
// one: its in-flight fetch is cancelled and a late result is discarded.
// A failed fetch still renders a local placeholder and leaves the session in
// StateFailed; the fetch error is returned.
func (c *Controller) Navigate(ctx context.Context, input string) error {
	target, err := NormalizeAddress(input, c.blocked)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation
	reqID := id.NewRequestID()
	navCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.requestID = reqID
	prevAddress := c.address
	c.address = target
	c.setStateLocked(StateLoading)
	c.mu.Unlock()
	defer cancel()

	c.events.publish(Event{Type: EventState, Session: c.id.String(), State: StateLoading, URL: target, RequestID: reqID.String()})
	c.logger.Info("navigating", zap.String("url", target), zap.String("request", reqID.String()))

	start := time.Now()
	result, fetchErr := c.fetcher.Fetch(navCtx, target)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.closed {
		c.logger.Debug("discarding stale navigation result",
			zap.String("url", target),
			zap.String("request", reqID.String()))
		c.metrics.ObserveStaleResponse()
		return nil
	}
	c.cancel = nil

	// The caller went away before any page arrived. Nothing replaced the
	// previous page, so it stays as it was.
	if ctx.Err() != nil && errors.Is(fetchErr, context.Canceled) {
		c.restoreStateLocked(prevAddress)
		c.metrics.ObserveNavigation("cancelled", time.Since(start))
		c.logger.Debug("navigation abandoned by caller", zap.String("url", target), zap.Error(fetchErr))
		c.events.publish(Event{Type: EventState, Session: c.id.String(), State: c.state, URL: c.address,
			RequestID: reqID.String()})
		return fetchErr
	}

	// Patches belong to the previous page whatever the outcome.
	c.patches.Reset()

	if fetchErr != nil {
		reason := failureReason(fetchErr)
		c.page = nil
		c.frag = Placeholder(target, reason)
		c.banner = reason
		c.metrics.ObserveNavigation("failed", time.Since(start))
		c.logger.Warn("navigation failed", zap.String("url", target), zap.Error(fetchErr))

		if err := c.renderLocked(ctx); err != nil {
			c.logger.Error("failed to render placeholder", zap.Error(err))
		}
		c.setStateLocked(StateFailed)
		c.events.publish(Event{Type: EventError, Session: c.id.String(), State: StateFailed, URL: target,
			RequestID: reqID.String(), Error: reason})
		return fetchErr
	}

	c.page = &Page{URL: result.URL, Title: result.Title, RawHTML: result.HTML, Generation: gen}
	c.frag = markup.Normalize(result.HTML, result.URL)
	c.banner = ""
	if err := c.renderLocked(ctx); err != nil {
		c.page = nil
		c.banner = err.Error()
		c.setStateLocked(StateFailed)
		c.metrics.ObserveNavigation("failed", time.Since(start))
		return err
	}
	c.setStateLocked(StateRendered)
	c.metrics.ObserveNavigation("rendered", time.Since(start))
	c.logger.Info("page rendered",
		zap.String("url", result.URL),
		zap.String("title", result.Title),
		zap.Int("bytes", len(result.HTML)),
		zap.Duration("duration", time.Since(start)))
	c.events.publish(Event{Type: EventState, Session: c.id.String(), State: StateRendered, URL: result.URL,
		Title: result.Title, RequestID: reqID.String()})
	return nil
}

// Reload navigates to the current address again
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	address := c.address
	if c.page != nil {
		address = c.page.URL
	}
	c.mu.Unlock()

	if address == "" {
		return ErrNoPage
	}
	return c.Navigate(ctx, address)
}

// ApplyPatches appends css and js to the active page's patches and
// re-renders without fetching. Blank patches are ignored.
func (c *Controller) ApplyPatches(ctx context.Context, css, js string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.page == nil {
		return ErrNoPage
	}
	changed := false
	if c.patches.AppendCSS(css) {
		c.metrics.ObservePatch("css")
		changed = true
	}
	if c.patches.AppendJS(js) {
		c.metrics.ObservePatch("js")
		changed = true
	}
	if !changed {
		return nil
	}
	return c.applyLocked(ctx)
}

// ApplyFiles appends every CSS and JS file as a patch, in order, and
// re-renders once. Other files are skipped. It returns the number applied.
// generation names the page the files were made for (Page().Generation);
// once another navigation has replaced that page ErrStalePage is returned and
// nothing is applied.
func (c *Controller) ApplyFiles(ctx context.Context, generation uint64, files []modgen.File) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.page == nil && c.generation == generation {
		return 0, ErrNoPage
	}
	if c.page == nil || c.page.Generation != generation {
		c.logger.Debug("discarding files for a replaced page",
			zap.Uint64("generation", generation),
			zap.Uint64("current", c.generation))
		c.metrics.ObserveStaleResponse()
		return 0, ErrStalePage
	}
	applied := 0
	for _, f := range files {
		var ok bool
		switch f.PatchKind() {
		case modgen.PatchCSS:
			ok = c.patches.AppendCSS(f.Content)
		case modgen.PatchJS:
			ok = c.patches.AppendJS(f.Content)
		}
		if ok {
			applied++
			c.metrics.ObservePatch(string(f.PatchKind()))
		}
	}
	if applied == 0 {
		return 0, nil
	}
	return applied, c.applyLocked(ctx)
}

func (c *Controller) applyLocked(ctx context.Context) error {
	if err := c.renderLocked(ctx); err != nil {
		return err
	}
	c.updated = time.Now()
	css, js := c.patches.Len()
	c.logger.Debug("patches applied", zap.Int("css", css), zap.Int("js", js))
	c.events.publish(Event{Type: EventPatched, Session: c.id.String(), State: c.state, URL: c.page.URL, HandleID: c.handle.ID})
	return nil
}

// renderLocked recomposes the document and replaces the render handle.
func (c *Controller) renderLocked(ctx context.Context) error {
	doc := compose.Build(c.frag, c.patches.Current())

	grant := sandbox.DefaultGrant()
	if c.page != nil {
		grant = c.renderer.GrantFor(c.page.URL)
	}

	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
	h, err := c.renderer.Render(ctx, doc, grant)
	if err != nil {
		return err
	}
	c.handle = h
	c.document = doc.HTML

	c.events.publish(Event{Type: EventRendered, Session: c.id.String(), URL: c.address, HandleID: h.ID})
	go c.forwardDiagnostics(h)
	return nil
}

func (c *Controller) forwardDiagnostics(h *sandbox.Handle) {
	<-h.Done()
	if h.Closed() {
		return
	}
	if diags := h.Diagnostics(); len(diags) > 0 {
		c.events.publish(Event{Type: EventDiagnostics, Session: c.id.String(), HandleID: h.ID, Diagnostics: diags})
	}
}

// DismissError hides the error banner. The placeholder stays rendered.
func (c *Controller) DismissError() {
	c.mu.Lock()
	had := c.banner != ""
	c.banner = ""
	c.mu.Unlock()
	if had {
		c.events.publish(Event{Type: EventDismissed, Session: c.id.String()})
	}
}

// restoreStateLocked returns an abandoned Loading session to the state its
// current content implies.
func (c *Controller) restoreStateLocked(prevAddress string) {
	switch {
	case c.page != nil:
		c.address = c.page.URL
		c.setStateLocked(StateRendered)
	case c.handle != nil:
		c.address = prevAddress
		c.setStateLocked(StateFailed)
	default:
		c.address = ""
		c.setStateLocked(StateIdle)
	}
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.updated = time.Now()
}

// State returns the navigation state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Page returns the active page, or nil if none is loaded
func (c *Controller) Page() *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil
	}
	p := *c.page
	return &p
}

// Patches returns the active patch set
func (c *Controller) Patches() patch.Set {
	return c.patches.Current()
}

// Frame returns the rendered document and its handle. ok is false before
// the first render.
func (c *Controller) Frame() (document string, handle *sandbox.Handle, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return "", nil, false
	}
	return c.document, c.handle, true
}

// Subscribe streams session events until the returned cancel is called or
// the session closes.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// Snapshot describes a session for API responses
type Snapshot struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Loading   bool      `json:"loading"`
	Address   string    `json:"address,omitempty"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	HandleID  string    `json:"handle_id,omitempty"`
	Sandbox   string    `json:"sandbox,omitempty"`
	CSSCount  int       `json:"css_patches"`
	JSCount   int       `json:"js_patches"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

// Snapshot returns the current session state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	css, js := c.patches.Len()
	s := Snapshot{
		ID:        c.id.String(),
		State:     c.state,
		Loading:   c.state == StateLoading,
		Address:   c.address,
		Error:     c.banner,
		RequestID: c.requestID.String(),
		CSSCount:  css,
		JSCount:   js,
		Created:   c.created,
		Updated:   c.updated,
	}
	if c.page != nil {
		s.URL = c.page.URL
		s.Title = c.page.Title
	}
	if c.handle != nil {
		s.HandleID = c.handle.ID
		s.Sandbox = c.handle.Grant.IframeAttr()
	}
	return s
}

// Close cancels any navigation, releases the render handle and ends all
// subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.handle != nil {
		c.handle.Close()
	}
	c.mu.Unlock()

	c.events.publish(Event{Type: EventClosed, Session: c.id.String()})
	c.events.close()
}

// ErrClosed is returned when navigating a closed session
var ErrClosed = errors.New("session closed")

func failureReason(err error) string {
	var fe *fetch.FetchError
	switch {
	case errors.As(err, &fe):
		return fe.Reason()
	case errors.Is(err, context.Canceled):
		return "navigation cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out fetching the page"
	default:
		return err.Error()
	}
}
