// Package http wires the gin surface: the signal endpoint, the lobby REST
// view and metrics.
package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/adapters/signal"
	"github.com/hallwayfm/hallway/internal/auth"
	"github.com/hallwayfm/hallway/internal/config"
	"github.com/hallwayfm/hallway/internal/domain"
	"github.com/hallwayfm/hallway/internal/rooms"
)

// ClientTokenMiddleware assigns each browser a stable session id; it becomes
// the SessionID of its event channel.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type createRoomRequest struct {
	Name            string   `json:"name" binding:"required"`
	MaxParticipants int      `json:"maxParticipants"`
	Languages       []string `json:"languages"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.Controller, mgr *rooms.Manager, verifier *auth.Verifier, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HallwaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	// Lobby view, readable by anyone.
	api.GET("/rooms", func(c *gin.Context) {
		list, err := mgr.ListRooms(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": list})
	})

	// Room creation requires a verified identity.
	api.POST("/rooms", func(c *gin.Context) {
		token := bearerToken(c)
		userID, err := verifier.Verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		var req createRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
			return
		}
		if req.MaxParticipants <= 0 {
			req.MaxParticipants = 16
		}
		room, err := mgr.CreateRoom(c.Request.Context(), domain.RoomName(req.Name), userID, req.MaxParticipants, req.Languages)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
			return
		}
		c.JSON(http.StatusCreated, room)
	})

	return r
}

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return ""
}
