package services

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trivialive/models"
)

// ConnBinder maintains the roomID -> connection-set mapping used for
// broadcasts. The websocket hub implements it.
type ConnBinder interface {
	Bind(connID, roomID string)
	Unbind(connID string)
}

// LeaveResult describes the outcome of a leave to the caller and mirrors
// the PLAYER_LEFT broadcast.
type LeaveResult struct {
	RoomID           string       `json:"room_id"`
	Status           string       `json:"status"` // player-left | room-closed
	RemainingPlayers int          `json:"remaining_players"`
	Room             *models.Room `json:"room,omitempty"`
}

type connSession struct {
	identity models.Identity
	roomID   string
}

// ConnectionManager maps live connections to authenticated users and rooms.
// A disconnect marks the player disconnected immediately and arms a bounded
// reconnect-grace timer; reconnecting within the window reattaches the same
// player record with score and answers intact, otherwise the disconnect is
// finalized as a leave.
type ConnectionManager struct {
	registry  *RoomRegistry
	game      *GameService
	scheduler *QuestionScheduler
	hub       Broadcaster
	binder    ConnBinder
	clock     clockwork.Clock
	grace     time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*connSession
	graceTimers map[string]clockwork.Timer // roomID + ":" + userID
}

func NewConnectionManager(
	registry *RoomRegistry,
	game *GameService,
	scheduler *QuestionScheduler,
	hub Broadcaster,
	binder ConnBinder,
	clock clockwork.Clock,
	grace time.Duration,
	log zerolog.Logger,
) *ConnectionManager {
	return &ConnectionManager{
		registry:    registry,
		game:        game,
		scheduler:   scheduler,
		hub:         hub,
		binder:      binder,
		clock:       clock,
		grace:       grace,
		log:         log.With().Str("component", "connection_manager").Logger(),
		sessions:    make(map[string]*connSession),
		graceTimers: make(map[string]clockwork.Timer),
	}
}

// Register attaches a verified identity to a connection without joining a
// room.
func (m *ConnectionManager) Register(connID string, identity models.Identity) {
	m.mu.Lock()
	m.sessions[connID] = &connSession{identity: identity}
	m.mu.Unlock()
	m.log.Debug().Str("conn_id", connID).Str("user_id", identity.UserID).Msg("connection registered")
}

// TrackRoom records that a connection belongs to a room it just created,
// and attaches it to the room's broadcast set.
func (m *ConnectionManager) TrackRoom(connID, roomID string) {
	m.mu.Lock()
	if s, ok := m.sessions[connID]; ok {
		s.roomID = roomID
	}
	m.mu.Unlock()
	if m.binder != nil {
		m.binder.Bind(connID, roomID)
	}
}

// Identity returns the identity bound to a connection.
func (m *ConnectionManager) Identity(connID string) (models.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return models.Identity{}, false
	}
	return s.identity, true
}

// JoinRoom adds the connection's user to a room, or reattaches an existing
// player record on rejoin.
func (m *ConnectionManager) JoinRoom(connID, roomID, displayName string) (*models.Room, error) {
	m.mu.Lock()
	session, ok := m.sessions[connID]
	if !ok {
		m.mu.Unlock()
		return nil, models.ErrUnauthorized
	}
	if session.roomID != "" && session.roomID != roomID {
		m.mu.Unlock()
		return nil, models.ErrInvalidRoomState
	}
	identity := session.identity
	m.mu.Unlock()

	room, err := m.JoinAsUser(identity, roomID, displayName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if s, ok := m.sessions[connID]; ok {
		s.roomID = room.RoomID
	}
	m.mu.Unlock()
	if m.binder != nil {
		m.binder.Bind(connID, room.RoomID)
	}
	return room, nil
}

// JoinAsUser is the transport-independent join used by both the websocket
// and HTTP paths.
func (m *ConnectionManager) JoinAsUser(identity models.Identity, roomID, displayName string) (*models.Room, error) {
	room, err := m.registry.Find(roomID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	room.Mu.Lock()
	existing := room.FindPlayer(identity.UserID)
	if existing != nil {
		// Rejoin: reattach the same player record, score and answers kept.
		m.cancelGraceTimer(room.RoomID, identity.UserID)
		if existing.Status == models.PlayerDisconnected {
			switch room.Status {
			case models.RoomPlaying:
				if existing.HasAnsweredCurrent() {
					existing.Status = models.PlayerAnswered
				} else {
					existing.Status = models.PlayerPlaying
				}
			default:
				existing.Status = models.PlayerWaiting
			}
		}
		room.Touch(now)
		snapshot := *existing
		count := len(room.Players)
		room.Mu.Unlock()

		m.log.Info().Str("room_id", room.RoomID).Str("user_id", identity.UserID).Msg("player reattached")
		m.hub.BroadcastToRoom(room.RoomID, models.NewGameEvent(models.EventPlayerJoined, room.RoomID, now, map[string]any{
			"player":       snapshot,
			"player_count": count,
			"rejoined":     true,
		}))
		return room, nil
	}

	if room.Status != models.RoomWaiting {
		room.Mu.Unlock()
		return nil, models.ErrInvalidRoomState
	}
	if len(room.Players) >= room.Config.MaxPlayers {
		room.Mu.Unlock()
		return nil, models.ErrRoomFull
	}
	if displayName == "" {
		displayName = identity.Email
	}
	player := &models.Player{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: displayName,
		Status:      models.PlayerWaiting,
		JoinedAt:    now,
	}
	room.Players = append(room.Players, player)
	room.Touch(now)
	snapshot := *player
	count := len(room.Players)
	room.Mu.Unlock()

	m.log.Info().Str("room_id", room.RoomID).Str("user_id", identity.UserID).
		Int("players", count).Msg("player joined")
	m.hub.BroadcastToRoom(room.RoomID, models.NewGameEvent(models.EventPlayerJoined, room.RoomID, now, map[string]any{
		"player":       snapshot,
		"player_count": count,
	}))
	return room, nil
}

// LeaveRoom removes the connection's player from its room.
func (m *ConnectionManager) LeaveRoom(connID string) (*LeaveResult, error) {
	m.mu.Lock()
	session, ok := m.sessions[connID]
	if !ok || session.roomID == "" {
		m.mu.Unlock()
		return nil, models.ErrPlayerNotInRoom
	}
	roomID := session.roomID
	userID := session.identity.UserID
	session.roomID = ""
	m.mu.Unlock()

	if m.binder != nil {
		m.binder.Unbind(connID)
	}
	return m.LeaveAsUser(userID, roomID)
}

// LeaveAsUser is the transport-independent leave used by both paths. The
// host role moves to the next player by join order; a room left empty is
// cancelled and reaped.
func (m *ConnectionManager) LeaveAsUser(userID, roomID string) (*LeaveResult, error) {
	room, err := m.registry.Find(roomID)
	if err != nil {
		return nil, err
	}
	roomID = room.RoomID

	now := m.clock.Now()
	room.Mu.Lock()
	player := room.FindPlayer(userID)
	if player == nil {
		room.Mu.Unlock()
		return nil, models.ErrPlayerNotInRoom
	}
	m.cancelGraceTimer(roomID, userID)

	wasHost := player.IsHost
	kept := make([]*models.Player, 0, len(room.Players)-1)
	for _, p := range room.Players {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	room.Players = kept
	remaining := len(kept)
	room.Touch(now)

	if remaining == 0 {
		room.Mu.Unlock()

		m.hub.BroadcastToRoom(roomID, models.NewGameEvent(models.EventPlayerLeft, roomID, now, map[string]any{
			"user_id":           userID,
			"status":            models.LeaveStatusRoomClosed,
			"remaining_players": 0,
		}))
		if err := m.game.CancelRoom(roomID, ""); err != nil && !errors.Is(err, models.ErrRoomNotFound) {
			// Already terminal; make sure the registry still drops it.
			_ = m.registry.Remove(roomID)
		}
		m.log.Info().Str("room_id", roomID).Str("user_id", userID).Msg("last player left, room closed")
		return &LeaveResult{RoomID: roomID, Status: models.LeaveStatusRoomClosed}, nil
	}

	var newHostID string
	if wasHost {
		next := kept[0]
		next.IsHost = true
		room.HostID = next.UserID
		newHostID = next.UserID
	}
	playing := room.Status == models.RoomPlaying
	room.Mu.Unlock()

	payload := map[string]any{
		"user_id":           userID,
		"status":            models.LeaveStatusPlayerLeft,
		"remaining_players": remaining,
	}
	if newHostID != "" {
		payload["new_host_id"] = newHostID
	}
	m.hub.BroadcastToRoom(roomID, models.NewGameEvent(models.EventPlayerLeft, roomID, now, payload))

	// The leaver no longer counts towards the all-answered check.
	if playing {
		m.scheduler.NotifyAnswer(roomID)
	}

	m.log.Info().Str("room_id", roomID).Str("user_id", userID).
		Int("remaining", remaining).Msg("player left")
	return &LeaveResult{
		RoomID:           roomID,
		Status:           models.LeaveStatusPlayerLeft,
		RemainingPlayers: remaining,
		Room:             room,
	}, nil
}

// Disconnect marks the player disconnected, reassigns the host role if
// needed and arms the reconnect-grace timer. The room's question timer
// keeps running.
func (m *ConnectionManager) Disconnect(connID string) {
	m.mu.Lock()
	session, ok := m.sessions[connID]
	if ok {
		delete(m.sessions, connID)
	}
	m.mu.Unlock()
	if m.binder != nil {
		m.binder.Unbind(connID)
	}
	if !ok || session.roomID == "" {
		return
	}

	roomID := session.roomID
	userID := session.identity.UserID
	room, err := m.registry.Find(roomID)
	if err != nil {
		return
	}

	now := m.clock.Now()
	room.Mu.Lock()
	player := room.FindPlayer(userID)
	if player == nil {
		room.Mu.Unlock()
		return
	}
	player.Status = models.PlayerDisconnected

	// The host role cannot sit on a disconnected player; hand it to the
	// next connected player by join order. A reconnecting ex-host returns
	// as a regular player.
	var newHostID string
	if player.IsHost {
		for _, p := range room.Players {
			if p.UserID != userID && p.Status != models.PlayerDisconnected {
				player.IsHost = false
				p.IsHost = true
				room.HostID = p.UserID
				newHostID = p.UserID
				break
			}
		}
	}
	playing := room.Status == models.RoomPlaying
	players := RankPlayers(room.Players)
	room.Touch(now)
	room.Mu.Unlock()

	m.log.Info().Str("room_id", roomID).Str("user_id", userID).
		Str("new_host_id", newHostID).Msg("player disconnected, grace timer armed")

	payload := map[string]any{
		"user_id": userID,
		"players": players,
	}
	if newHostID != "" {
		payload["new_host_id"] = newHostID
	}
	m.hub.BroadcastToRoom(roomID, models.NewGameEvent(models.EventRoomUpdated, roomID, now, payload))

	if playing {
		m.scheduler.NotifyAnswer(roomID)
	}

	m.armGraceTimer(roomID, userID)
}

func (m *ConnectionManager) armGraceTimer(roomID, userID string) {
	key := roomID + ":" + userID
	m.mu.Lock()
	if old, ok := m.graceTimers[key]; ok {
		old.Stop()
	}
	m.graceTimers[key] = m.clock.AfterFunc(m.grace, func() {
		m.mu.Lock()
		delete(m.graceTimers, key)
		m.mu.Unlock()
		m.log.Info().Str("room_id", roomID).Str("user_id", userID).
			Msg("reconnect grace elapsed, finalizing leave")
		if _, err := m.LeaveAsUser(userID, roomID); err != nil && !errors.Is(err, models.ErrRoomNotFound) {
			m.log.Warn().Err(err).Str("room_id", roomID).Str("user_id", userID).
				Msg("failed to finalize disconnect")
		}
	})
	m.mu.Unlock()
}

// cancelGraceTimer stops a pending disconnect finalization. Caller may hold
// the room lock; only m.mu is taken here.
func (m *ConnectionManager) cancelGraceTimer(roomID, userID string) {
	key := roomID + ":" + userID
	m.mu.Lock()
	if t, ok := m.graceTimers[key]; ok {
		t.Stop()
		delete(m.graceTimers, key)
	}
	m.mu.Unlock()
}
