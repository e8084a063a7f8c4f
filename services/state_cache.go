package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trivialive/models"
)

// StateCache keeps best-effort GameState snapshots in Redis with a TTL, so
// a client fetching state right after a room finished (and was reaped from
// the registry) still gets the final standings. The in-memory registry stays
// authoritative; cache errors are logged and ignored.
type StateCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

func NewStateCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *StateCache {
	return &StateCache{
		redis: client,
		ttl:   ttl,
		log:   log.With().Str("component", "state_cache").Logger(),
	}
}

func (c *StateCache) Store(ctx context.Context, state *models.GameState) {
	if c == nil || c.redis == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		c.log.Error().Err(err).Str("room_id", state.RoomID).Msg("failed to marshal game state")
		return
	}
	if err := c.redis.Set(ctx, "room:"+state.RoomID, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("room_id", state.RoomID).Msg("failed to cache game state")
	}
}

func (c *StateCache) Get(ctx context.Context, roomID string) *models.GameState {
	if c == nil || c.redis == nil {
		return nil
	}
	data, err := c.redis.Get(ctx, "room:"+roomID).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("room_id", roomID).Msg("failed to read cached game state")
		}
		return nil
	}
	var state models.GameState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		c.log.Error().Err(err).Str("room_id", roomID).Msg("failed to unmarshal cached game state")
		return nil
	}
	return &state
}
