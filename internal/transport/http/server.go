package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/watchparty/internal/config"
	"github.com/vovakirdan/watchparty/internal/core"
)

// NewServer builds the HTTP server: read-only room introspection plus the session socket.
func NewServer(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(logger))

	rooms := NewRoomHandlers(hub.Registry(), logger)
	router.GET("/health", rooms.Health)

	api := router.Group("/api")
	{
		api.GET("/health", rooms.Health)
		api.GET("/rooms", rooms.ListRooms)
		api.GET("/rooms/:roomId", rooms.GetRoom)
	}

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
