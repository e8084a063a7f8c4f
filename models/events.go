package models

import "time"

type EventType string

const (
	EventPlayerJoined      EventType = "PLAYER_JOINED"
	EventPlayerLeft        EventType = "PLAYER_LEFT"
	EventGameStarted       EventType = "GAME_STARTED"
	EventQuestionStarted   EventType = "QUESTION_STARTED"
	EventAnswerReceived    EventType = "ANSWER_RECEIVED"
	EventQuestionEnded     EventType = "QUESTION_ENDED"
	EventGameEnded         EventType = "GAME_ENDED"
	EventLeaderboardUpdate EventType = "LEADERBOARD_UPDATE"
	EventRoomUpdated       EventType = "ROOM_UPDATED"
)

// GameEvent is the single envelope every broadcast uses. Data is whatever
// JSON-serializable payload the event type calls for.
type GameEvent struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

func NewGameEvent(t EventType, roomID string, now time.Time, data any) GameEvent {
	return GameEvent{Type: t, RoomID: roomID, Timestamp: now, Data: data}
}

// LeaveStatus distinguishes the two shapes a PLAYER_LEFT broadcast can take.
const (
	LeaveStatusPlayerLeft = "player-left"
	LeaveStatusRoomClosed = "room-closed"
)
