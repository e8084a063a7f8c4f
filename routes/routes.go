package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trivialive/handlers"
	"trivialive/middleware"
	"trivialive/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	gameHandler *handlers.GameHandler,
	hub *services.Hub,
	auth *services.AuthService,
	log zerolog.Logger,
) {
	api := router.Group("/api")
	{
		protected := api.Group("/rooms")
		protected.Use(middleware.AuthMiddleware(auth))
		{
			protected.POST("", gameHandler.CreateRoom)
			protected.GET("", gameHandler.SearchRooms)
			protected.GET("/:roomId", gameHandler.GetRoom)
			protected.GET("/:roomId/state", gameHandler.GetRoomState)
			protected.POST("/:roomId/join", gameHandler.JoinRoom)
			protected.POST("/:roomId/leave", gameHandler.LeaveRoom)
			protected.POST("/:roomId/start", gameHandler.StartGame)
			protected.POST("/:roomId/answer", gameHandler.SubmitAnswer)
			protected.DELETE("/:roomId", gameHandler.CancelRoom)
		}
	}

	// WebSocket endpoint for real-time game traffic. The token travels as a
	// query parameter since browsers cannot set headers on websocket dials.
	router.GET("/ws", func(c *gin.Context) {
		token := c.Query("token")
		identity, err := auth.VerifyToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("user_id", identity.UserID).Msg("websocket upgrade failed")
			return
		}
		hub.Register(conn, *identity)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
