package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/faithlink/presence-service/internal/config"
	"github.com/faithlink/presence-service/internal/errs"
	"github.com/faithlink/presence-service/internal/model"
	"github.com/faithlink/presence-service/internal/service"
	"github.com/faithlink/presence-service/pkg/constants"
	"github.com/gin-gonic/gin"
)

// PresenceHandler handles the REST surface: live snapshot and overview for
// dashboards, durable history for reports, administrative stop.
type PresenceHandler struct {
	registry   *service.PresenceRegistry
	aggregator *service.Aggregator
	store      service.SessionStore
	cfg        *config.Config
}

// NewPresenceHandler creates the REST presence handler.
func NewPresenceHandler(registry *service.PresenceRegistry, aggregator *service.Aggregator, store service.SessionStore, cfg *config.Config) *PresenceHandler {
	return &PresenceHandler{registry: registry, aggregator: aggregator, store: store, cfg: cfg}
}

// ClientConfig godoc
// GET /presence/config
// Tells UI collaborators where the socket lives and how often to heartbeat.
func (h *PresenceHandler) ClientConfig(c *gin.Context) {
	wsURL := constants.PathPresenceWS
	if base := h.cfg.WSBaseURL; base != "" {
		wsURL = strings.TrimRight(base, "/") + constants.PathPresenceWS
	}
	c.JSON(http.StatusOK, gin.H{
		"wsUrl":            wsURL,
		"heartbeatSeconds": int(h.cfg.HeartbeatInterval / time.Second),
	})
}

// LiveSessions godoc
// GET /presence/live
func (h *PresenceHandler) LiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.aggregator.LiveSessions())
}

// Overview godoc
// GET /presence/overview
func (h *PresenceHandler) Overview(c *gin.Context) {
	c.JSON(http.StatusOK, h.aggregator.Overview())
}

// ListSessions godoc
// GET /sessions?pastor_id=&live=&limit=&offset=
// Reads the durable store only; reporting wants history, not live presence.
func (h *PresenceHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	sessions, err := h.store.ListSessions(c.Request.Context(), service.ListSessionsQuery{
		PastorID: c.Query("pastor_id"),
		LiveOnly: c.Query("live") == "true",
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, model.SessionHistoryResponse{Sessions: sessions, Limit: limit, Offset: offset})
}

// GetSession godoc
// GET /sessions/:id
func (h *PresenceHandler) GetSession(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id required"})
		return
	}
	sess, err := h.store.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// StopSession godoc
// POST /sessions/:id/stop
// Administrative stop (moderation). Same StopSession path as every other
// termination, just a different reason. Requires X-User-Role: admin, written
// by the trusted identity layer.
func (h *PresenceHandler) StopSession(c *gin.Context) {
	if model.Role(c.GetHeader("X-User-Role")) != model.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id required"})
		return
	}
	if err := h.registry.StopSession(c.Request.Context(), id, model.StopReasonAdmin); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop session"})
		return
	}
	c.Status(http.StatusNoContent)
}
