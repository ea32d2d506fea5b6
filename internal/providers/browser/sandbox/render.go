package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/webmodder/internal/providers/browser/compose"
	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by Wait when the handle was closed before its
// scripts finished.
var ErrClosed = errors.New("render handle closed")

// Renderer creates isolated render handles for composed documents.
type Renderer struct {
	config   Config
	logger   *zap.Logger
	observer Observer
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Renderer) { r.observer = o }
}

// NewRenderer creates a renderer.
func NewRenderer(config Config, opts ...Option) *Renderer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	r := &Renderer{
		config:   config,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GrantFor returns the grant the renderer's policy assigns to targetURL.
func (r *Renderer) GrantFor(targetURL string) Grant {
	return r.config.Policy.GrantFor(targetURL)
}

// Render creates a handle for doc and starts executing doc.Scripts in the
// background. Script elements that came with the page are never run. The caller does not wait for them; results are
// available through the handle. Execution is detached from ctx's
// cancellation and only ends when the scripts finish or the handle closes.
func (r *Renderer) Render(ctx context.Context, doc compose.Document, grant Grant) (*Handle, error) {
	if err := grant.Validate(); err != nil {
		return nil, err
	}
	dom, err := NewDOM(doc.HTML)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		ID:       uuid.NewString(),
		Grant:    grant,
		Created:  time.Now(),
		document: doc.HTML,
		dom:      dom,
		cancel:   cancel,
		done:     make(chan struct{}),
		observer: r.observer,
	}

	scripts := make([]PatchScript, len(doc.Scripts))
	for i, src := range doc.Scripts {
		scripts[i] = PatchScript{Index: i, Source: src}
	}
	r.logger.Debug("render started",
		zap.String("handle", h.ID),
		zap.Stringer("grant", grant),
		zap.Int("patches", len(scripts)))

	go h.run(runCtx, r, scripts)
	return h, nil
}

// Handle owns the execution context of one composed document.
type Handle struct {
	ID      string
	Grant   Grant
	Created time.Time

	document string
	dom      *DOM
	cancel   context.CancelFunc
	done     chan struct{}
	observer Observer

	mu          sync.Mutex
	diagnostics []Diagnostic
	closed      bool
}

func (h *Handle) run(ctx context.Context, r *Renderer, scripts []PatchScript) {
	defer close(h.done)
	start := time.Now()
	defer func() {
		h.observer.ObserveRender(time.Since(start), len(scripts))
	}()

	if len(scripts) == 0 {
		return
	}
	if !h.Grant.Has(Scripts) {
		for _, s := range scripts {
			h.record(Diagnostic{Kind: KindCapabilityDenied, Patch: s.Index,
				Message: "script blocked: sandbox does not grant scripts"})
		}
		return
	}

	rt, err := newRuntime(r.config, h.Grant, h.dom, h.record)
	if err != nil {
		h.record(Diagnostic{Kind: KindScriptError, Patch: -1, Message: err.Error()})
		return
	}

	for _, s := range scripts {
		if ctx.Err() != nil {
			return
		}
		err := rt.Execute(ctx, s)
		if err == nil {
			continue
		}

		var interrupted *goja.InterruptedError
		switch {
		case errors.As(err, &interrupted) && interrupted.Value() == errScriptTimeout:
			h.record(Diagnostic{Kind: KindTimeout, Patch: s.Index, Message: errScriptTimeout.Error()})
		case errors.As(err, &interrupted):
			// Closed mid-script.
			return
		default:
			// Syntax errors and anything the guard could not catch.
			h.record(Diagnostic{Kind: KindScriptError, Patch: s.Index, Message: err.Error()})
			r.logger.Debug("patch script failed",
				zap.String("handle", h.ID),
				zap.Int("patch", s.Index),
				zap.Error(err))
		}
	}
}

func (h *Handle) record(d Diagnostic) {
	if d.Time.IsZero() {
		d.Time = time.Now()
	}
	h.mu.Lock()
	h.diagnostics = append(h.diagnostics, d)
	h.mu.Unlock()
	h.observer.ObserveDiagnostic(string(d.Kind))
}

// Document returns the composed document this handle renders.
func (h *Handle) Document() string {
	return h.document
}

// Headers returns the response headers for serving the document in a frame.
func (h *Handle) Headers() map[string]string {
	return h.Grant.Headers()
}

// Done is closed once patch execution has ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until patch execution ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		if h.Closed() {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Diagnostics returns a snapshot of everything recorded so far.
func (h *Handle) Diagnostics() []Diagnostic {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Diagnostic(nil), h.diagnostics...)
}

// DOMChanges returns the modifications patches made to the document.
func (h *Handle) DOMChanges() []DOMChange {
	return h.dom.Changes()
}

// Close interrupts any running script and releases the runtime. It is safe
// to call more than once.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	h.cancel()
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Summary describes a handle for API responses.
type Summary struct {
	ID          string       `json:"id"`
	Sandbox     string       `json:"sandbox"`
	Created     time.Time    `json:"created"`
	Finished    bool         `json:"finished"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	DOMChanges  []DOMChange  `json:"dom_changes"`
}

// Summarize snapshots the handle.
func (h *Handle) Summarize() Summary {
	finished := false
	select {
	case <-h.done:
		finished = true
	default:
	}
	return Summary{
		ID:          h.ID,
		Sandbox:     h.Grant.IframeAttr(),
		Created:     h.Created,
		Finished:    finished,
		Diagnostics: h.Diagnostics(),
		DOMChanges:  h.DOMChanges(),
	}
}
