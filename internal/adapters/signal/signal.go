// Package signal is the websocket transport boundary. It owns connection
// resources and translates wire envelopes into orchestrator calls; all room
// and message semantics live below it.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ormond/waypoint/internal/app"
	"github.com/ormond/waypoint/internal/config"
	"github.com/ormond/waypoint/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch     *app.Orchestrator
	cfg      *config.Config
	validate *validator.Validate
	limiter  *SendRateLimiter
}

func NewController(orch *app.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{
		Orch:     orch,
		cfg:      cfg,
		validate: validator.New(),
		limiter:  NewSendRateLimiter(cfg.SendRate, cfg.SendRateInterval),
	}
}

// WsSignalConn implements core.SignalConnection over one websocket.
// Outbound delivery is a buffered channel drained by the write pump, so a
// slow peer surfaces as ErrBackpressure instead of blocking the sender.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection's pumps. One
// read goroutine dispatches inbound events in order; one write goroutine
// drains the outbound queue.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	connID := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}

	if _, err := ctl.Orch.Connect(connID, conn); err != nil {
		// Full house: shed the connection with a structured error. No pumps
		// are running yet, so write directly.
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("connection rejected")
		if frame, encErr := core.Encode(core.ErrorEvent{Type: core.EvError, Code: core.CodeOf(err), Message: "server full"}); encErr == nil {
			_ = ws.WriteMessage(websocket.TextMessage, frame)
		}
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full"))
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, connID, conn)
}

func (ctl *Controller) sendJSON(c *WsSignalConn, v any) {
	frame, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(frame)
}

func (ctl *Controller) sendError(c *WsSignalConn, err error) {
	code := core.CodeOf(err)
	msg := "internal error"
	var ce *core.Error
	if errors.As(err, &ce) {
		msg = ce.Msg
	}
	ctl.sendJSON(c, core.ErrorEvent{Type: core.EvError, Code: code, Message: msg})
}
