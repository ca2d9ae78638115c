package server

import (
	"github.com/gin-gonic/gin"

	"oobind/internal/auth"
	"oobind/internal/config"
	"oobind/internal/handler"
	"oobind/internal/logging"
	"oobind/internal/middleware"
)

func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	mode := deps.Config.Mode
	if mode == "" {
		mode = config.ModeService
	}
	if mode == config.ModeRelay {
		r.Use(middleware.CORS([]string{"*"}))
	} else {
		r.Use(middleware.CORS(deps.Config.AllowedOrigins))
	}

	r.GET("/health", handler.Health(mode))

	bindHandler := &handler.BindHandler{
		Ceremony:          deps.Ceremony,
		Negotiator:        deps.Negotiator,
		ReportCompromised: deps.Config.ReportCompromised,
	}
	bind := r.Group("/bind")
	bind.POST("/handshake", bindHandler.Handshake)
	bind.POST("/initialize", bindHandler.Initialize)
	bind.POST("/negotiate", bindHandler.Negotiate)
	bind.POST("/complete", bindHandler.Complete)
	bind.POST("/cancel", bindHandler.Cancel)

	watchHandler := &handler.WatchHandler{Ceremony: deps.Ceremony}
	bind.GET("/:id/watch", watchHandler.Serve)

	if deps.Ceremony.PreNegotiation() {
		preHandler := &handler.PreNegotiateHandler{Ceremony: deps.Ceremony}
		r.POST("/pre-negotiate", preHandler.Step)
	}

	if deps.Relay != nil {
		streamHandler := &handler.StreamHandler{Relay: deps.Relay, Logger: deps.Logger}
		r.POST("/stream/:id/upload", streamHandler.Upload)
		r.POST("/stream/:id/download", streamHandler.Download)
	}

	if deps.Passkey != nil {
		passkeyHandler := &handler.PasskeyHandler{Verifier: deps.Passkey}
		r.POST("/passkey/register/start", passkeyHandler.RegisterStart)
		r.POST("/passkey/register/finish", passkeyHandler.RegisterFinish)
		r.POST("/passkey/auth/start", passkeyHandler.AuthStart)
	}

	adminHandler := &handler.AdminHandler{Ceremony: deps.Ceremony, Logger: deps.Logger}
	admin := r.Group("/admin")
	admin.Use(middleware.RequireAdmin(deps.TokenConfig))
	admin.GET("/sessions", middleware.RequireScope(auth.ScopeSessionsRead), adminHandler.List)
	admin.POST("/sessions/expire", middleware.RequireScope(auth.ScopeSessionsExpire), adminHandler.ExpireAll)
	admin.POST("/sessions/:id/expire", middleware.RequireScope(auth.ScopeSessionsExpire), adminHandler.Expire)

	return r
}
