package handler

import (
	"context"
	"time"

	"github.com/faithlink/presence-service/internal/config"
	"github.com/faithlink/presence-service/internal/model"
	"github.com/faithlink/presence-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// PresenceWSHandler owns the lifecycle of presence WebSocket connections:
// handshake, inbound decode, heartbeat deadline, and teardown.
// Path: /ws/presence?user_id=&role= — identity fields come from the trusted
// upstream identity layer; both absent means anonymous viewer.
type PresenceWSHandler struct {
	hub      *service.BroadcastHub
	registry *service.PresenceRegistry
	cfg      *config.Config
	logger   *zap.Logger
}

// NewPresenceWSHandler creates the WebSocket presence handler.
func NewPresenceWSHandler(hub *service.BroadcastHub, registry *service.PresenceRegistry, cfg *config.Config, logger *zap.Logger) *PresenceWSHandler {
	return &PresenceWSHandler{hub: hub, registry: registry, cfg: cfg, logger: logger}
}

// ServeWS upgrades the request and runs the connection until it dies.
// Whatever kills it (close frame, heartbeat timeout, hub kick), teardown
// always releases viewer counts and force-ends any session this connection
// owned.
func (h *PresenceWSHandler) ServeWS(c *gin.Context) {
	userID := c.Query("user_id")
	role := model.Role(c.DefaultQuery("role", string(model.RoleViewer)))

	conn, err := h.hub.Upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	sub := service.NewSubscriber(connID, userID, h.cfg.PresenceQueueSize)
	h.registry.Join(sub)
	defer func() {
		h.registry.Leave(connID)
		sub.Close()
		_ = conn.Close()
	}()

	go h.writePump(conn, sub)
	h.readPump(c.Request.Context(), conn, sub, connID, userID, role)
}

func (h *PresenceWSHandler) readPump(ctx context.Context, conn *websocket.Conn, sub *service.Subscriber, connID, userID string, role model.Role) {
	grace := h.cfg.HeartbeatGrace()
	if h.cfg.WSMaxMessageSize > 0 {
		conn.SetReadLimit(h.cfg.WSMaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(grace))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read error", zap.String("connection_id", connID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(grace))

		msg, err := model.DecodeClientMessage(data)
		if err != nil {
			sub.Offer(model.TypeError, "", model.NewError("invalid_message", err.Error()))
			continue
		}
		h.handleMessage(ctx, msg, sub, connID, userID, role)
	}
}

// handleMessage validates role permission and forwards to the registry.
// Rejections go back to this connection only; nothing here can take down the
// hub or another connection.
func (h *PresenceWSHandler) handleMessage(ctx context.Context, msg model.ClientMessage, sub *service.Subscriber, connID, userID string, role model.Role) {
	switch m := msg.(type) {
	case model.HeartbeatMessage:
		h.registry.Heartbeat(connID)

	case model.StartPrayingMessage:
		if role != model.RolePastor && role != model.RoleAdmin {
			sub.Offer(model.TypeError, "", model.NewError("unauthorized", "only pastors may start a live session"))
			return
		}
		if role != model.RoleAdmin && m.PastorID != userID {
			sub.Offer(model.TypeError, "", model.NewError("unauthorized", "cannot start a session for another pastor"))
			return
		}
		_, err := h.registry.StartSession(ctx, connID, service.StartSessionInput{
			PastorID:    m.PastorID,
			ChurchID:    m.ChurchID,
			ChurchName:  m.ChurchName,
			PastorName:  m.PastorName,
			PrayerFocus: m.PrayerFocus,
		})
		if err != nil {
			sub.Offer(model.TypeError, "", model.NewError("persistence_unavailable", "could not start your live session, try again"))
		}

	case model.StopPrayingMessage:
		owner, live := h.registry.SessionOwner(m.SessionID)
		if !live {
			// Already ended or never existed; stop is idempotent.
			return
		}
		if role != model.RoleAdmin && owner != userID {
			sub.Offer(model.TypeError, m.SessionID, model.NewError("unauthorized", "cannot stop another pastor's session"))
			return
		}
		reason := model.StopReasonGraceful
		if role == model.RoleAdmin && owner != userID {
			reason = model.StopReasonAdmin
		}
		_ = h.registry.StopSession(ctx, m.SessionID, reason)
	}
}

func (h *PresenceWSHandler) writePump(conn *websocket.Conn, sub *service.Subscriber) {
	defer conn.Close()
	for {
		select {
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-sub.Wake():
			for {
				data, ok := sub.TryNext()
				if !ok {
					break
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}
}
