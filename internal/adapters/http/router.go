package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceDesk/internal/adapters/signal"
	"github.com/dkeye/VoiceDesk/internal/auth"
	"github.com/dkeye/VoiceDesk/internal/config"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

const (
	sessionName     = "VoiceDeskSessions"
	sessionPartyKey = "party"
	partyNameKey    = "party_name"
)

// PartyMiddleware authenticates the caller from a bearer token, a token
// query parameter, or a cookie session established by POST /api/session.
func PartyMiddleware(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := auth.FromRequest(c.Request); raw != "" {
			party, err := v.Verify(raw)
			if err != nil {
				log.Debug().Err(err).Str("module", "adapters.http").Msg("token rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
				return
			}
			c.Set(signal.PartyKey, string(party.ID))
			c.Set(partyNameKey, party.Name)
			c.Next()
			return
		}
		session := sessions.Default(c)
		if id, ok := session.Get(sessionPartyKey).(string); ok && id != "" {
			c.Set(signal.PartyKey, id)
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

type sessionRequest struct {
	Token string `json:"token" binding:"required"`
}

type tokenRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name"`
}

// SetupRouter builds the relay server surface.
func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController, v *auth.Verifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, MaxAge: int(cfg.TokenTTL.Seconds())})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "parties": len(ctl.Hub.Parties())})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.POST("/session", func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
			return
		}
		party, err := v.Verify(req.Token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		session := sessions.Default(c)
		session.Set(sessionPartyKey, string(party.ID))
		if err := session.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		c.JSON(http.StatusOK, party)
	})

	api.DELETE("/session", func(c *gin.Context) {
		session := sessions.Default(c)
		session.Clear()
		session.Options(sessions.Options{Path: "/", MaxAge: -1})
		_ = session.Save()
		c.Status(http.StatusNoContent)
	})

	if cfg.Mode == "debug" {
		api.POST("/dev/token", func(c *gin.Context) {
			var req tokenRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
				return
			}
			id, err := domain.ParsePartyID(req.ID)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			party, err := domain.NewParty(id, req.Name)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			token, err := v.Issue(*party, cfg.TokenTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token, "party": party})
		})
	}

	authed := api.Group("", PartyMiddleware(v))

	authed.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("party", c.GetString(signal.PartyKey)).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	authed.GET("/parties/:id/presence", func(c *gin.Context) {
		id, err := domain.ParsePartyID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "online": ctl.Hub.Online(id)})
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
