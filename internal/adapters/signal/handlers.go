package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ormond/waypoint/internal/core"
	"github.com/ormond/waypoint/internal/domain"
)

func (ctl *Controller) decode(c *WsSignalConn, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad payload")
		ctl.sendError(c, core.Errf(core.CodeInvalid, "malformed payload"))
		return false
	}
	if err := ctl.validate.Struct(v); err != nil {
		ctl.sendError(c, core.Wrap(core.CodeInvalid, "invalid payload", err))
		return false
	}
	return true
}

func (ctl *Controller) handleAuthenticate(ctx context.Context, connID core.ConnID, c *WsSignalConn, data []byte) {
	var p struct {
		Type  string `json:"type"`
		Token string `json:"token" validate:"required"`
	}
	if !ctl.decode(c, data, &p) {
		return
	}

	ev, err := ctl.Orch.Authenticate(ctx, connID, p.Token)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.sendJSON(c, ev)
}

func (ctl *Controller) handleJoin(ctx context.Context, connID core.ConnID, c *WsSignalConn, data []byte) {
	var p struct {
		Type string `json:"type"`
		Room string `json:"room" validate:"required,max=64"`
	}
	if !ctl.decode(c, data, &p) {
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("room", p.Room).Msg("join")
	ev, err := ctl.Orch.Join(ctx, connID, domain.RoomID(p.Room))
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.sendJSON(c, ev)
}

// handleLeave drops the room membership; the connection stays open.
func (ctl *Controller) handleLeave(connID core.ConnID, c *WsSignalConn) {
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("leave")
	ev, err := ctl.Orch.Leave(connID)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.sendJSON(c, ev)
}

func (ctl *Controller) handleSend(ctx context.Context, connID core.ConnID, c *WsSignalConn, data []byte) {
	var p struct {
		Type     string `json:"type"`
		Content  string `json:"content"`
		MsgType  string `json:"msg_type" validate:"omitempty,oneof=text image video file"`
		MediaRef string `json:"media_ref" validate:"omitempty,max=512"`
	}
	if !ctl.decode(c, data, &p) {
		return
	}
	if !ctl.limiter.Allow(connID) {
		ctl.sendError(c, core.Errf(core.CodeExhausted, "sending too fast"))
		return
	}
	if p.MsgType == "" {
		p.MsgType = string(domain.MsgText)
	}

	ack, err := ctl.Orch.Send(ctx, connID, p.Content, domain.MessageType(p.MsgType), p.MediaRef)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.sendJSON(c, ack)
}

func (ctl *Controller) handleReact(ctx context.Context, connID core.ConnID, c *WsSignalConn, data []byte) {
	var p struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id" validate:"required,max=64"`
	}
	if !ctl.decode(c, data, &p) {
		return
	}
	if !ctl.limiter.Allow(connID) {
		ctl.sendError(c, core.Errf(core.CodeExhausted, "sending too fast"))
		return
	}

	// The updated message reaches the caller via the room broadcast.
	if _, err := ctl.Orch.React(ctx, connID, p.MessageID); err != nil {
		ctl.sendError(c, err)
	}
}

func (ctl *Controller) handlePing(c *WsSignalConn) {
	ctl.sendJSON(c, core.PongEvent{Type: core.EvPong})
}
