package http

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webmodder/internal/domain/session"
	"github.com/GriffinCanCode/webmodder/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webmodder/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/fetch"
	"github.com/GriffinCanCode/webmodder/internal/providers/modgen"
	"github.com/GriffinCanCode/webmodder/internal/shared/id"
	"github.com/GriffinCanCode/webmodder/internal/shared/utils"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// Sessions is the subset of the session manager the handlers use
type Sessions interface {
	Create() *session.Controller
	Get(sid id.SessionID) (*session.Controller, bool)
	List() []session.Snapshot
	Delete(sid id.SessionID) bool
	Count() int
}

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions  Sessions
	generator modgen.Generator
	metrics   *monitoring.Metrics
	providers []string
	logger    *zap.Logger
	frame     func(http.Handler) http.HandlerFunc
}

// Deps are the collaborators of a handler set. Generator may be nil, in
// which case /modify answers 503.
type Deps struct {
	Sessions  Sessions
	Generator modgen.Generator
	Metrics   *monitoring.Metrics
	Providers []string
	Logger    *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &Handlers{
		sessions:  deps.Sessions,
		generator: deps.Generator,
		metrics:   metrics,
		providers: deps.Providers,
		logger:    logger,
		frame:     gzhttp.GzipHandler,
	}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.DeleteSession)

	r.POST("/sessions/:id/navigate", h.Navigate)
	r.POST("/sessions/:id/reload", h.Reload)
	r.POST("/sessions/:id/patches", h.ApplyPatches)
	r.POST("/sessions/:id/modify", h.Modify)
	r.DELETE("/sessions/:id/error", h.DismissError)

	r.GET("/sessions/:id/frame", h.Frame)
	r.GET("/sessions/:id/diagnostics", h.Diagnostics)
	r.POST("/sessions/:id/logs", h.StreamLogs)
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "webmodder preview",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"sessions":  h.sessions.Count(),
		"providers": h.providers,
		"generator": gin.H{"enabled": h.generator != nil},
		"metrics":   h.metrics.Snapshot(),
	})
}

// CreateSession opens a session. An optional address starts a navigation.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := utils.ValidateAddress(req.Address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctrl := h.sessions.Create()
	if strings.TrimSpace(req.Address) != "" {
		if err := ctrl.Navigate(c.Request.Context(), req.Address); err != nil {
			h.respondError(c, err, ctrl)
			return
		}
	}
	c.JSON(http.StatusCreated, ctrl.Snapshot())
}

// ListSessions lists all live sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"stats":    gin.H{"total": len(sessions)},
	})
}

// GetSession returns one session's snapshot
func (h *Handlers) GetSession(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// DeleteSession closes and removes a session
func (h *Handlers) DeleteSession(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	if err := utils.ValidateID(sid.String(), "session id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.sessions.Delete(sid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": sid})
}

// Navigate loads a new address into the session
func (h *Handlers) Navigate(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	if err := utils.ValidateAddress(req.Address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ctrl.Navigate(c.Request.Context(), req.Address); err != nil {
		h.respondError(c, err, ctrl)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Reload fetches the current address again
func (h *Handlers) Reload(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if err := ctrl.Reload(c.Request.Context()); err != nil {
		h.respondError(c, err, ctrl)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// ApplyPatches appends style and script patches to the current page
func (h *Handlers) ApplyPatches(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		CSS string `json:"css"`
		JS  string `json:"js"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for kind, content := range map[string]string{"css": req.CSS, "js": req.JS} {
		if err := utils.ValidatePatch(kind, content); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := ctrl.ApplyPatches(c.Request.Context(), req.CSS, req.JS); err != nil {
		h.respondError(c, err, ctrl)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// ModifyRequest is the body of a modification round
type ModifyRequest struct {
	Request     string `json:"request"`
	ImageBase64 string `json:"image_base64"`
	Kind        string `json:"kind"`
	Mode        string `json:"mode"`
}

// ModifyResponse reports a modification round
type ModifyResponse struct {
	Project modgen.Project   `json:"project"`
	Applied int              `json:"applied"`
	Session session.Snapshot `json:"session"`
}

// Modify asks the generator for a modification of the current page and
// applies its style and script files. Inspector rounds only analyse.
func (h *Handlers) Modify(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	if h.generator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": modgen.ErrDisabled.Error()})
		return
	}

	var body ModifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	image, err := decodeImage(body.ImageBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_base64 is not valid base64"})
		return
	}
	if err := utils.ValidateRequest(body.Request, len(image)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := modgen.Request{
		Text:  body.Request,
		Image: image,
		Kind:  modgen.Kind(strings.ToUpper(body.Kind)),
		Mode:  modgen.Mode(strings.ToUpper(body.Mode)),
	}
	if err := req.Validate(); err != nil {
		h.respondError(c, err, nil)
		return
	}
	page := ctrl.Page()
	if page != nil {
		req.PageSource = page.RawHTML
	}

	timer := monitoring.NewTimer(h.metrics, string(req.Mode))
	result, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		timer.Stop("error")
		h.respondError(c, err, nil)
		return
	}
	timer.Stop("ok")

	applied := 0
	if req.Mode != modgen.ModeInspector && page != nil {
		applied, err = ctrl.ApplyFiles(c.Request.Context(), page.Generation, result.Files)
		if err != nil {
			h.respondError(c, err, ctrl)
			return
		}
	}

	c.JSON(http.StatusOK, ModifyResponse{
		Project: modgen.NewProject(req, result),
		Applied: applied,
		Session: ctrl.Snapshot(),
	})
}

// DismissError clears the session's error banner
func (h *Handlers) DismissError(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	ctrl.DismissError()
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// Frame serves the composed document with the sandbox policy headers. The
// embedding page loads it into an iframe carrying the same sandbox tokens.
func (h *Handlers) Frame(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	document, handle, ok := ctrl.Frame()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": session.ErrNoPage.Error()})
		return
	}

	etag := utils.ETag(document)
	h.frame(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range handle.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("ETag", etag)
		if utils.MatchesETag(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Preview-Handle", handle.ID)
		w.Header().Set("X-Preview-Sandbox", handle.Grant.IframeAttr())
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, document)
	})).ServeHTTP(c.Writer, c.Request)
}

// Diagnostics reports what the current render's scripts did. With ?wait=1
// it blocks until the scripts have finished.
func (h *Handlers) Diagnostics(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	_, handle, ok := ctrl.Frame()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": session.ErrNoPage.Error()})
		return
	}
	if c.Query("wait") != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		_ = handle.Wait(ctx)
	}
	c.JSON(http.StatusOK, handle.Summarize())
}

func (h *Handlers) session(c *gin.Context) (*session.Controller, bool) {
	sid := c.Param("id")
	if err := utils.ValidateID(sid, "session id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	ctrl, ok := h.sessions.Get(id.SessionID(sid))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return ctrl, true
}

// decodeImage accepts raw base64 or a data URL
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

// respondError maps domain errors to status codes. A failed navigation
// still rendered a placeholder, so its snapshot is included.
func (h *Handlers) respondError(c *gin.Context, err error, ctrl *session.Controller) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if ctrl != nil && status == http.StatusBadGateway {
		body["session"] = ctrl.Snapshot()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyAddress),
		errors.Is(err, session.ErrInvalidAddress),
		errors.Is(err, session.ErrBlockedHost),
		errors.Is(err, modgen.ErrEmptyRequest),
		errors.Is(err, modgen.ErrBadImage),
		errors.Is(err, modgen.ErrUnknownKind),
		errors.Is(err, modgen.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoPage),
		errors.Is(err, session.ErrStalePage):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, modgen.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case isUpstream(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isUpstream(err error) bool {
	var fe *fetch.FetchError
	return errors.As(err, &fe) ||
		errors.Is(err, modgen.ErrUpstream) ||
		errors.Is(err, modgen.ErrNoResponse) ||
		errors.Is(err, resilience.ErrCircuitOpen)
}
