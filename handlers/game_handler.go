package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trivialive/middleware"
	"trivialive/models"
	"trivialive/services"
)

// GameHandler is the HTTP fallback for the websocket surface; both map onto
// the same engine operations.
type GameHandler struct {
	game     *services.GameService
	sessions *services.ConnectionManager
	answers  *services.AnswerProcessor
	registry *services.RoomRegistry
}

func NewGameHandler(game *services.GameService, sessions *services.ConnectionManager, answers *services.AnswerProcessor, registry *services.RoomRegistry) *GameHandler {
	return &GameHandler{
		game:     game,
		sessions: sessions,
		answers:  answers,
		registry: registry,
	}
}

type createRoomRequest struct {
	DisplayName string            `json:"display_name"`
	Config      models.RoomConfig `json:"config"`
}

type joinRoomRequest struct {
	DisplayName string `json:"display_name"`
}

type submitAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
	Answer     *int   `json:"answer" binding:"required"`
	TimeSpent  int    `json:"time_spent"`
}

func (h *GameHandler) CreateRoom(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.game.CreateRoom(identity, req.DisplayName, req.Config)
	if err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room, "code": room.RoomID})
}

func (h *GameHandler) JoinRoom(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.sessions.JoinAsUser(identity, c.Param("roomId"), req.DisplayName)
	if err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *GameHandler) LeaveRoom(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	result, err := h.sessions.LeaveAsUser(identity.UserID, c.Param("roomId"))
	if err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *GameHandler) StartGame(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	room, err := h.game.StartGame(c.Request.Context(), c.Param("roomId"), identity.UserID)
	if err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *GameHandler) CancelRoom(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	if err := h.game.CancelRoom(c.Param("roomId"), identity.UserID); err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.RoomCancelled})
}

func (h *GameHandler) SubmitAnswer(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}
	var req submitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.answers.Submit(c.Param("roomId"), identity.UserID, req.QuestionID, *req.Answer, req.TimeSpent)
	if err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *GameHandler) GetRoom(c *gin.Context) {
	room, err := h.registry.Find(c.Param("roomId"))
	if err != nil {
		writeGameError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *GameHandler) GetRoomState(c *gin.Context) {
	roomID := c.Param("roomId")
	state, err := h.game.State(c.Request.Context(), roomID)
	if err != nil {
		writeGameError(c, err)
		return
	}
	resp := gin.H{"game_state": state}
	if room, err := h.registry.Find(roomID); err == nil {
		resp["room"] = room
	}
	c.JSON(http.StatusOK, resp)
}

func (h *GameHandler) SearchRooms(c *gin.Context) {
	filters := services.RoomFilters{
		Topic:      c.Query("topic"),
		Difficulty: c.Query("difficulty"),
		Status:     models.RoomStatus(c.Query("status")),
	}
	if v := c.Query("max_players"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_players must be an integer"})
			return
		}
		filters.MaxPlayers = n
	}
	c.JSON(http.StatusOK, gin.H{"rooms": h.registry.Search(filters)})
}

func identityFrom(c *gin.Context) (models.Identity, bool) {
	value, exists := c.Get(middleware.IdentityKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return models.Identity{}, false
	}
	return identity, true
}

// writeGameError maps the engine's typed errors onto HTTP statuses, keeping
// the code/retryable fields clients use to tell terminal from transient
// failures.
func writeGameError(c *gin.Context, err error) {
	var gameErr *models.GameError
	if !errors.As(err, &gameErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusBadRequest
	switch gameErr {
	case models.ErrRoomNotFound:
		status = http.StatusNotFound
	case models.ErrRoomFull, models.ErrInvalidRoomState, models.ErrQuestionMismatch, models.ErrDuplicateAnswer:
		status = http.StatusConflict
	case models.ErrPlayerNotInRoom, models.ErrUnauthorized:
		status = http.StatusForbidden
	case models.ErrProviderUnavailable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"error":     gameErr.Message,
		"code":      gameErr.Code,
		"retryable": gameErr.Retryable,
	})
}
