package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webmodder/internal/domain/session"
	"github.com/GriffinCanCode/webmodder/internal/shared/id"
	"github.com/GriffinCanCode/webmodder/internal/shared/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 1 << 20
)

// Sessions looks up live sessions
type Sessions interface {
	Get(sid id.SessionID) (*session.Controller, bool)
}

// Metrics records stream activity
type Metrics interface {
	IncWSConnections()
	DecWSConnections()
	RecordWSMessage(direction, msgType string)
}

// Message is a command sent by the client
type Message struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	CSS     string `json:"css,omitempty"`
	JS      string `json:"js,omitempty"`
}

// Handler streams session events over WebSocket connections
type Handler struct {
	sessions Sessions
	metrics  Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions Sessions, metrics Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // the API is CORS-open as well
			},
		},
	}
}

// connection serializes writes; gorilla allows one concurrent writer.
type connection struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	metrics Metrics
}

func (c *connection) send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(data); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", msgType)
	return nil
}

func (c *connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *connection) sendError(msg string) error {
	return c.send("command_error", map[string]interface{}{
		"type":      "command_error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}

// HandleConnection upgrades GET /stream?session=:id and forwards the
// session's events until either side closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	ctrl, ok := h.sessions.Get(id.SessionID(c.Query("session")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	logger := h.logger.With(zap.String("session", ctrl.ID().String()))
	logger.Debug("stream opened")

	// Commands outlive the upgrade request but not the connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	cn := &connection{conn: conn, metrics: h.metrics}
	if err := cn.send("system", map[string]interface{}{
		"type":    "system",
		"message": "Connected to preview session",
		"session": ctrl.Snapshot(),
	}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readLoop(ctx, cn, ctrl, logger)
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				_ = cn.send("closed", map[string]interface{}{"type": "closed"})
				return
			}
			if err := cn.send(string(e.Type), e); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := cn.ping(); err != nil {
				return
			}
		case <-done:
			logger.Debug("stream closed by client")
			return
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, cn *connection, ctrl *session.Controller, logger *zap.Logger) {
	conn := cn.conn
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "navigate":
			if err := utils.ValidateAddress(msg.Address); err != nil {
				_ = cn.sendError(err.Error())
				continue
			}
			// Navigations run concurrently so a newer one can supersede.
			go func(address string) {
				if err := ctrl.Navigate(ctx, address); err != nil {
					_ = cn.sendError(err.Error())
				}
			}(msg.Address)
		case "reload":
			go func() {
				if err := ctrl.Reload(ctx); err != nil {
					_ = cn.sendError(err.Error())
				}
			}()
		case "patch":
			if err := validatePatch(msg); err != nil {
				_ = cn.sendError(err.Error())
				continue
			}
			if err := ctrl.ApplyPatches(ctx, msg.CSS, msg.JS); err != nil {
				_ = cn.sendError(err.Error())
			}
		case "dismiss_error":
			ctrl.DismissError()
		case "snapshot":
			_ = cn.send("snapshot", map[string]interface{}{"type": "snapshot", "session": ctrl.Snapshot()})
		case "ping":
			_ = cn.send("pong", map[string]interface{}{"type": "pong"})
		default:
			_ = cn.sendError("unknown message type")
		}
	}
}

func validatePatch(msg Message) error {
	if err := utils.ValidatePatch("css", msg.CSS); err != nil {
		return err
	}
	return utils.ValidatePatch("js", msg.JS)
}
