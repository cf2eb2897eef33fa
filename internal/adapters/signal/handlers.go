package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/app"
	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/domain"
	"github.com/hallwayfm/hallway/internal/protocol"
)

func (ctl *Controller) handleFrame(ctx context.Context, sid core.SessionID, c *wsSignalConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json frame")
		return
	}

	switch {
	case env.Request:
		ctl.handleRequest(ctx, sid, c, env)
	case env.Notification:
		ctl.handleNotification(ctx, sid, env)
	default:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("frame is neither request nor notification")
	}
}

func (ctl *Controller) handleRequest(ctx context.Context, sid core.SessionID, c *wsSignalConn, env protocol.Envelope) {
	sess, ok := ctl.Registry.Get(sid)
	if !ok {
		ctl.reject(c, env.ID, domain.ErrAuthRequired)
		return
	}

	// Every room and voice mutation requires a verified identity. Guests keep
	// their hallway subscription; they are never silently dropped.
	if sess.Guest {
		ctl.reject(c, env.ID, domain.ErrAuthRequired)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, ctl.callTimeout)
	defer cancel()

	switch env.Method {
	case protocol.MethodRoomJoin:
		ctl.handleJoin(ctx, sess, c, env, false)
	case protocol.MethodRoomSync:
		ctl.handleJoin(ctx, sess, c, env, true)
	case protocol.MethodRoomLeave:
		ctl.handleLeave(ctx, sess, c, env)
	case protocol.MethodRoomKick:
		ctl.handleKick(ctx, sess, c, env)
	case protocol.MethodRoomOwner:
		ctl.handleTransferOwner(ctx, sess, c, env)
	case protocol.MethodRTPCapabilities:
		ctl.accept(c, env.ID, ctl.Engine.RTPCapabilities())
	case protocol.MethodCreateTransport:
		ctl.handleCreateTransport(sess, c, env)
	case protocol.MethodConnectTransport:
		ctl.handleConnectTransport(ctx, sess, c, env)
	case protocol.MethodProduce:
		ctl.handleProduce(ctx, sess, c, env)
	case protocol.MethodConsume:
		ctl.handleConsume(ctx, sess, c, env)
	default:
		log.Warn().Str("module", "signal").Str("method", env.Method).Msg("unknown request")
		ctl.rejectCode(c, env.ID, "UNKNOWN_METHOD", "unknown method "+env.Method)
	}
}

func (ctl *Controller) handleNotification(ctx context.Context, sid core.SessionID, env protocol.Envelope) {
	sess, ok := ctl.Registry.Get(sid)
	if !ok || sess.Guest {
		return
	}
	switch env.Method {
	case protocol.MethodRoomMute:
		// Fire-and-forget by design: the sender gets no ack, the relayed
		// room:user-muted is the only confirmation anyone sees.
		var p protocol.MuteNotification
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad mute payload")
			return
		}
		roomID, ok := ctl.Registry.RoomOf(sid)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, ctl.callTimeout)
		defer cancel()
		if err := ctl.Rooms.Mute(ctx, sess.User.ID, roomID, p.Muted); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("mute failed")
		}
	default:
		log.Warn().Str("module", "signal").Str("method", env.Method).Msg("unknown notification")
	}
}

func (ctl *Controller) handleJoin(ctx context.Context, sess app.Session, c *wsSignalConn, env protocol.Envelope, sync bool) {
	var p protocol.JoinRequest
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
		ctl.rejectCode(c, env.ID, "BAD_PAYLOAD", "missing roomId")
		return
	}
	if !sync && !ctl.joinLimiter.Allow(sess.User.ID) {
		ctl.rejectCode(c, env.ID, "RATE_LIMITED", "too many join attempts")
		return
	}

	var (
		resp *protocol.JoinResponse
		err  error
	)
	if sync {
		resp, err = ctl.Rooms.Sync(ctx, sess.SID, sess.User.ID, sess.User.Username, domain.RoomID(p.RoomID))
	} else {
		resp, err = ctl.Rooms.Join(ctx, sess.SID, sess.User.ID, sess.User.Username, domain.RoomID(p.RoomID))
	}
	if err != nil {
		ctl.reject(c, env.ID, err)
		return
	}
	ctl.accept(c, env.ID, resp)
}

func (ctl *Controller) handleLeave(ctx context.Context, sess app.Session, c *wsSignalConn, env protocol.Envelope) {
	var p protocol.JoinRequest
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
		ctl.rejectCode(c, env.ID, "BAD_PAYLOAD", "missing roomId")
		return
	}
	if err := ctl.Rooms.Leave(ctx, sess.User.ID, domain.RoomID(p.RoomID), "leave"); err != nil {
		ctl.reject(c, env.ID, err)
		return
	}
	ctl.accept(c, env.ID, struct{}{})
}

func (ctl *Controller) handleKick(ctx context.Context, sess app.Session, c *wsSignalConn, env protocol.Envelope) {
	var p protocol.KickRequest
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" || p.UserID == "" {
		ctl.rejectCode(c, env.ID, "BAD_PAYLOAD", "missing roomId or userId")
		return
	}
	if err := ctl.Rooms.Kick(ctx, sess.User.ID, domain.UserID(p.UserID), domain.RoomID(p.RoomID)); err != nil {
		ctl.reject(c, env.ID, err)
		return
	}
	ctl.accept(c, env.ID, struct{}{})
}

func (ctl *Controller) handleTransferOwner(ctx context.Context, sess app.Session, c *wsSignalConn, env protocol.Envelope) {
	var p protocol.TransferOwnerRequest
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" || p.UserID == "" {
		ctl.rejectCode(c, env.ID, "BAD_PAYLOAD", "missing roomId or userId")
		return
	}
	if err := ctl.Rooms.TransferOwnership(ctx, sess.User.ID, domain.UserID(p.UserID), domain.RoomID(p.RoomID)); err != nil {
		ctl.reject(c, env.ID, err)
		return
	}
	ctl.accept(c, env.ID, struct{}{})
}

func (ctl *Controller) handleCreateTransport(sess app.Session, c *wsSignalConn, env protocol.Envelope) {
	var p protocol.CreateTransportRequest
	if err := json.Unmarshal(env.Data, &p); err != nil {
		ctl.rejectCode(c, env.ID, "BAD_PAYLOAD", "missing direction")
		return
	}
	params, err := ctl.Engine.CreateTransport(sess.SID, p.Direction)
	if err != nil {
		ctl.reject(c, env.ID, err)
		return
	}
	ctl.accept(c, env.ID, params)
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, sess app.Session, c *wsSignalConn, env protocol.Envelope) {
	var p protocol.ConnectTransportRequest
	if err := json.Unmarshal(env.Data, &p); err != nil || p.TransportID == "" {
		ctl.rejectCode(c, env.ID, "BAD_PAYLOAD", "missing transportId")
		return
	}
	if err := ctl.Engine.ConnectTransport(ctx, sess.SID, p.TransportID, p.DTLSParameters); err != nil {
		ctl.reject(c, env.ID, err)
		return
	}
	ctl.accept(c, env.ID, struct{}{})
}

func (ctl *Controller) handleProduce(ctx context.Context, sess app.Session, c *wsSignalConn, env protocol.Envelope) {
	var p protocol.ProduceRequest
	if err := json.Unmarshal(env.Data, &p); err != nil || p.TransportID == "" {
		ctl.rejectCode(c, env.ID, "BAD_PAYLOAD", "missing transportId")
		return
	}
	producerID, err := ctl.Engine.Produce(ctx, sess.SID, p.TransportID, p.RTPParameters)
	if err != nil {
		ctl.reject(c, env.ID, err)
		return
	}
	if roomID, ok := ctl.Registry.RoomOf(sess.SID); ok {
		if err := ctl.Rooms.AnnounceProducer(ctx, sess.User.ID, roomID, producerID); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.SID)).Msg("announce producer")
		}
	}
	ctl.accept(c, env.ID, protocol.ProduceResponse{ProducerID: producerID})
}

func (ctl *Controller) handleConsume(ctx context.Context, sess app.Session, c *wsSignalConn, env protocol.Envelope) {
	var p protocol.ConsumeRequest
	if err := json.Unmarshal(env.Data, &p); err != nil || p.ProducerID == "" {
		ctl.rejectCode(c, env.ID, "BAD_PAYLOAD", "missing producerId")
		return
	}
	params, err := ctl.Engine.Consume(ctx, sess.SID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		ctl.reject(c, env.ID, err)
		return
	}
	if ownerSID, ok := ctl.Engine.ProducerOwner(p.ProducerID); ok {
		if owner, ok := ctl.Registry.Get(ownerSID); ok {
			params.UserID = string(owner.User.ID)
		}
	}
	ctl.accept(c, env.ID, params)
}

func (ctl *Controller) accept(c *wsSignalConn, id uint64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal response payload")
		return
	}
	ctl.sendEnvelope(c, protocol.NewResponse(id, data))
}

func (ctl *Controller) reject(c *wsSignalConn, id uint64, err error) {
	ctl.rejectCode(c, id, domain.ErrorCode(err), err.Error())
}

func (ctl *Controller) rejectCode(c *wsSignalConn, id uint64, code, reason string) {
	ctl.sendEnvelope(c, protocol.NewErrorResponse(id, code, reason))
}

func (ctl *Controller) sendEnvelope(c *wsSignalConn, env protocol.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal envelope")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("send envelope")
	}
}
