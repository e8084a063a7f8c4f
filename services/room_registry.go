package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trivialive/models"
)

// Room codes exclude ambiguous characters: 0, O, 1, I, L.
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const roomCodeLength = 8

const (
	defaultMaxPlayers      = 8
	defaultTimePerQuestion = 30
	defaultQuestionCount   = 10
)

// RoomFilters narrows a registry search. Zero values match everything.
type RoomFilters struct {
	Topic      string
	Difficulty string
	MaxPlayers int
	Status     models.RoomStatus
}

// RoomRegistry is the process-wide store of active rooms. It is created once
// at service start and torn down with Shutdown, which cancels every
// outstanding timer through the cancel hook.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
	clock clockwork.Clock
	log   zerolog.Logger

	// cancelTimers is invoked for a room on Remove and Shutdown so no timer
	// outlives its room. Wired to the question scheduler at startup.
	cancelTimers func(roomID string)
}

func NewRoomRegistry(clock clockwork.Clock, log zerolog.Logger) *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*models.Room),
		clock: clock,
		log:   log.With().Str("component", "room_registry").Logger(),
	}
}

// SetTimerCanceller wires the hook used to cancel a room's timers on removal.
func (r *RoomRegistry) SetTimerCanceller(cancel func(roomID string)) {
	r.cancelTimers = cancel
}

// Create allocates a room with a collision-checked code and the given host
// as its first player.
func (r *RoomRegistry) Create(config models.RoomConfig, host *models.Player) (*models.Room, error) {
	if config.MaxPlayers <= 0 {
		config.MaxPlayers = defaultMaxPlayers
	}
	if config.TimePerQuestion <= 0 {
		config.TimePerQuestion = defaultTimePerQuestion
	}
	if config.QuestionsPerRequest <= 0 {
		config.QuestionsPerRequest = defaultQuestionCount
	}

	now := r.clock.Now()
	host.IsHost = true
	host.Status = models.PlayerWaiting
	host.JoinedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	var roomID string
	for {
		code, err := generateRoomCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate room code: %w", err)
		}
		if _, taken := r.rooms[code]; !taken {
			roomID = code
			break
		}
	}

	room := &models.Room{
		RoomID:               roomID,
		HostID:               host.UserID,
		Players:              []*models.Player{host},
		Status:               models.RoomWaiting,
		Config:               config,
		CurrentQuestionIndex: -1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	r.rooms[roomID] = room

	r.log.Info().Str("room_id", roomID).Str("host_id", host.UserID).
		Str("topic", config.Topic).Msg("room created")

	return room, nil
}

// Find returns the room with the given ID. Lookup is case-insensitive to
// forgive clients typing codes by hand.
func (r *RoomRegistry) Find(roomID string) (*models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[strings.ToUpper(roomID)]
	if !ok {
		return nil, models.ErrRoomNotFound
	}
	return room, nil
}

// Remove drops the room from the registry and cancels any timers it owns.
func (r *RoomRegistry) Remove(roomID string) error {
	roomID = strings.ToUpper(roomID)

	r.mu.Lock()
	_, ok := r.rooms[roomID]
	if ok {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()

	if !ok {
		return models.ErrRoomNotFound
	}
	if r.cancelTimers != nil {
		r.cancelTimers(roomID)
	}

	r.log.Info().Str("room_id", roomID).Msg("room removed")
	return nil
}

// Search returns rooms matching all set filters, WAITING (joinable) rooms
// first, then by creation time.
func (r *RoomRegistry) Search(filters RoomFilters) []*models.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		room    *models.Room
		waiting bool
		created time.Time
	}
	matched := make([]candidate, 0)
	for _, room := range r.rooms {
		room.Mu.Lock()
		ok := (filters.Topic == "" || strings.EqualFold(room.Config.Topic, filters.Topic)) &&
			(filters.Difficulty == "" || strings.EqualFold(room.Config.Difficulty, filters.Difficulty)) &&
			(filters.MaxPlayers == 0 || room.Config.MaxPlayers == filters.MaxPlayers) &&
			(filters.Status == "" || room.Status == filters.Status)
		if ok {
			matched = append(matched, candidate{
				room:    room,
				waiting: room.Status == models.RoomWaiting,
				created: room.CreatedAt,
			})
		}
		room.Mu.Unlock()
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].waiting != matched[j].waiting {
			return matched[i].waiting
		}
		return matched[i].created.Before(matched[j].created)
	})

	out := make([]*models.Room, len(matched))
	for i, c := range matched {
		out[i] = c.room
	}
	return out
}

// Len reports the number of active rooms.
func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Shutdown cancels every outstanding room timer and clears the registry.
func (r *RoomRegistry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.rooms = make(map[string]*models.Room)
	r.mu.Unlock()

	for _, id := range ids {
		if r.cancelTimers != nil {
			r.cancelTimers(id)
		}
	}
	r.log.Info().Int("rooms", len(ids)).Msg("registry shut down")
}

func generateRoomCode() (string, error) {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
