package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/strelka-im/realtime/internal/adapters/signal"
	"github.com/strelka-im/realtime/internal/app"
	"github.com/strelka-im/realtime/internal/config"
	"github.com/strelka-im/realtime/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a stable token so logs can
// correlate reconnects from the same client.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RealtimeSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")

	ctl := signal.NewSessionWSController(orch, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		TypingLimit:  cfg.TypingRateLimit,
		TypingWindow: cfg.TypingRateWindow,
	})

	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws endpoint hit")
		ctl.HandleSession(ctx, c)
	})

	// GET /api/presence/online reports currently online users.
	api.GET("/presence/online", func(c *gin.Context) {
		online, err := orch.Presence.ListOnline(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
			return
		}
		if online == nil {
			online = []domain.UserID{}
		}
		c.JSON(http.StatusOK, gin.H{"users": online})
	})

	// GET /api/typing/:conversation reports who is typing right now.
	api.GET("/typing/:conversation", func(c *gin.Context) {
		cid := domain.ConversationID(c.Param("conversation"))
		typing, err := orch.Typing.ListTyping(c.Request.Context(), cid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "typing unavailable"})
			return
		}
		if typing == nil {
			typing = []app.TypingUser{}
		}
		c.JSON(http.StatusOK, gin.H{"typing": typing})
	})

	return r
}
