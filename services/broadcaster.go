package services

import "trivialive/models"

// Broadcaster fans a game event out to every connection currently attached
// to a room. Delivery is at-least-once and best-effort; there is no replay
// for clients that attach later.
type Broadcaster interface {
	BroadcastToRoom(roomID string, event models.GameEvent)
}
