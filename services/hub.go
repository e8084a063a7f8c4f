package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trivialive/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Hub owns every live websocket connection and the explicit roomID ->
// connection-set mapping broadcasts iterate over. It also dispatches inbound
// game messages to the engine services; validation errors go back only to
// the originating connection as typed error acks.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	roomOf  map[string]string

	sessions *ConnectionManager
	game     *GameService
	answers  *AnswerProcessor
	log      zerolog.Logger
}

// Client is a single websocket connection with its verified identity.
type Client struct {
	hub      *Hub
	ID       string
	identity models.Identity
	conn     *websocket.Conn
	send     chan []byte
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type createRoomPayload struct {
	DisplayName string            `json:"display_name"`
	Config      models.RoomConfig `json:"config"`
}

type joinRoomPayload struct {
	RoomID      string `json:"room_id"`
	DisplayName string `json:"display_name"`
}

type startGamePayload struct {
	RoomID string `json:"room_id"`
}

type cancelRoomPayload struct {
	RoomID string `json:"room_id"`
}

type submitAnswerPayload struct {
	RoomID     string `json:"room_id"`
	QuestionID string `json:"question_id"`
	Answer     int    `json:"answer"`
	TimeSpent  int    `json:"time_spent"`
}

type roomStatePayload struct {
	RoomID string `json:"room_id"`
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		roomOf:  make(map[string]string),
		log:     log.With().Str("component", "hub").Logger(),
	}
}

// Attach wires the engine services the hub dispatches into. Separate from
// the constructor because the hub and the services reference each other.
func (h *Hub) Attach(sessions *ConnectionManager, game *GameService, answers *AnswerProcessor) {
	h.sessions = sessions
	h.game = game
	h.answers = answers
}

// Register takes over an upgraded connection: attaches the identity, starts
// the pumps and returns the client.
func (h *Hub) Register(conn *websocket.Conn, identity models.Identity) *Client {
	client := &Client{
		hub:      h,
		ID:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.sessions.Register(client.ID, identity)
	h.log.Info().Str("conn_id", client.ID).Str("user_id", identity.UserID).Msg("client connected")

	go client.writePump()
	go client.readPump()
	return client
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	// Drop the connection from its room set before closing send, under the
	// same lock, so a concurrent broadcast can never write to a closed
	// channel.
	if roomID, bound := h.roomOf[client.ID]; bound {
		delete(h.roomOf, client.ID)
		if set := h.rooms[roomID]; set != nil {
			delete(set, client.ID)
			if len(set) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	close(client.send)
	h.mu.Unlock()

	// Marks the player disconnected and arms the reconnect grace timer.
	h.sessions.Disconnect(client.ID)
	h.log.Info().Str("conn_id", client.ID).Str("user_id", client.identity.UserID).Msg("client disconnected")
}

// Bind attaches a connection to a room's broadcast set.
func (h *Hub) Bind(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[connID]
	if !ok {
		return
	}
	if old, bound := h.roomOf[connID]; bound {
		delete(h.rooms[old], connID)
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][connID] = client
	h.roomOf[connID] = roomID
}

// Unbind detaches a connection from its room's broadcast set.
func (h *Hub) Unbind(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomID, ok := h.roomOf[connID]
	if !ok {
		return
	}
	delete(h.roomOf, connID)
	if set := h.rooms[roomID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// BroadcastToRoom sends the event to every connection attached to the room.
// Slow consumers are dropped from this delivery rather than blocking it.
func (h *Hub) BroadcastToRoom(roomID string, event models.GameEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.rooms[roomID] {
		select {
		case client.send <- data:
		default:
			h.log.Warn().Str("conn_id", client.ID).Str("room_id", roomID).
				Str("event", string(event.Type)).Msg("send buffer full, dropping event")
		}
	}
}

// RoomConnections reports how many connections are attached to a room.
func (h *Hub) RoomConnections(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) sendToClient(client *Client, msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("conn_id", client.ID).Msg("failed to marshal message")
		return
	}
	select {
	case client.send <- data:
	default:
		h.log.Warn().Str("conn_id", client.ID).Msg("send buffer full, dropping message")
	}
}

// sendError acks a failed request back to the originating connection only;
// errors are never broadcast.
func (h *Hub) sendError(client *Client, action string, err error) {
	var gameErr *models.GameError
	if !errors.As(err, &gameErr) {
		gameErr = &models.GameError{Code: "INTERNAL", Message: "internal error", Retryable: true}
	}
	h.sendToClient(client, outboundMessage{
		Type: "error",
		Data: map[string]any{
			"action":    action,
			"code":      gameErr.Code,
			"message":   gameErr.Message,
			"retryable": gameErr.Retryable,
		},
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Str("conn_id", c.ID).Msg("websocket read error")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.sendError(c, "", &models.GameError{Code: "BAD_MESSAGE", Message: "malformed message"})
			continue
		}
		c.hub.handleMessage(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleMessage(c *Client, msg inboundMessage) {
	switch msg.Type {
	case "ping":
		h.sendToClient(c, outboundMessage{Type: "pong"})

	case "create-room":
		var p createRoomPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.sendError(c, msg.Type, &models.GameError{Code: "BAD_MESSAGE", Message: "malformed payload"})
			return
		}
		room, err := h.game.CreateRoom(c.identity, p.DisplayName, p.Config)
		if err != nil {
			h.sendError(c, msg.Type, err)
			return
		}
		h.sessions.TrackRoom(c.ID, room.RoomID)
		h.sendToClient(c, outboundMessage{Type: "room_created", Data: map[string]any{
			"room": room,
			"code": room.RoomID,
		}})

	case "join-room":
		var p joinRoomPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.sendError(c, msg.Type, &models.GameError{Code: "BAD_MESSAGE", Message: "malformed payload"})
			return
		}
		room, err := h.sessions.JoinRoom(c.ID, p.RoomID, p.DisplayName)
		if err != nil {
			h.sendError(c, msg.Type, err)
			return
		}
		// Late joiners get no event replay; hand them the current state
		// directly instead.
		state, _ := h.game.State(context.Background(), room.RoomID)
		h.sendToClient(c, outboundMessage{Type: "room_joined", Data: map[string]any{
			"room":       room,
			"game_state": state,
		}})

	case "leave-room":
		result, err := h.sessions.LeaveRoom(c.ID)
		if err != nil {
			h.sendError(c, msg.Type, err)
			return
		}
		h.sendToClient(c, outboundMessage{Type: "room_left", Data: result})

	case "start-game":
		var p startGamePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.sendError(c, msg.Type, &models.GameError{Code: "BAD_MESSAGE", Message: "malformed payload"})
			return
		}
		if _, err := h.game.StartGame(context.Background(), p.RoomID, c.identity.UserID); err != nil {
			h.sendError(c, msg.Type, err)
		}

	case "cancel-room":
		var p cancelRoomPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.sendError(c, msg.Type, &models.GameError{Code: "BAD_MESSAGE", Message: "malformed payload"})
			return
		}
		if err := h.game.CancelRoom(p.RoomID, c.identity.UserID); err != nil {
			h.sendError(c, msg.Type, err)
			return
		}
		h.sendToClient(c, outboundMessage{Type: "room_cancelled", Data: map[string]any{
			"room_id": p.RoomID,
		}})

	case "submit-answer":
		var p submitAnswerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.sendError(c, msg.Type, &models.GameError{Code: "BAD_MESSAGE", Message: "malformed payload"})
			return
		}
		result, err := h.answers.Submit(p.RoomID, c.identity.UserID, p.QuestionID, p.Answer, p.TimeSpent)
		if err != nil {
			h.sendError(c, msg.Type, err)
			return
		}
		h.sendToClient(c, outboundMessage{Type: "answer_result", Data: result})

	case "room-state":
		var p roomStatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.sendError(c, msg.Type, &models.GameError{Code: "BAD_MESSAGE", Message: "malformed payload"})
			return
		}
		state, err := h.game.State(context.Background(), p.RoomID)
		if err != nil {
			h.sendError(c, msg.Type, err)
			return
		}
		h.sendToClient(c, outboundMessage{Type: "room_state", Data: state})

	default:
		h.log.Warn().Str("conn_id", c.ID).Str("type", msg.Type).Msg("unknown message type")
	}
}
