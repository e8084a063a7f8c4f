package models

import (
	"sync"
	"time"
)

type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"
	RoomPlaying   RoomStatus = "playing"
	RoomFinished  RoomStatus = "finished"
	RoomCancelled RoomStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RoomStatus) Terminal() bool {
	return s == RoomFinished || s == RoomCancelled
}

type RoomConfig struct {
	Topic               string `json:"topic"`
	Difficulty          string `json:"difficulty"`
	QuestionsPerRequest int    `json:"questions_per_request"`
	MaxPlayers          int    `json:"max_players"`
	GameMode            string `json:"game_mode"`
	TimePerQuestion     int    `json:"time_per_question"` // seconds
}

// Room is one multiplayer game instance. The registry owns the Room; all
// mutation happens under Mu by whichever handler is currently processing a
// request for this room.
type Room struct {
	RoomID                   string     `json:"room_id"`
	HostID                   string     `json:"host_id"`
	Players                  []*Player  `json:"players"`
	Status                   RoomStatus `json:"status"`
	Config                   RoomConfig `json:"config"`
	Questions                []Question `json:"-"`
	CurrentQuestionIndex     int        `json:"current_question_index"`
	CurrentQuestionStartTime time.Time  `json:"current_question_start_time"`
	StartTime                *time.Time `json:"start_time,omitempty"`
	EndTime                  *time.Time `json:"end_time,omitempty"`
	SettlementPending        bool       `json:"settlement_pending,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`

	Mu sync.Mutex `json:"-"`
}

// FindPlayer returns the player with the given user ID, or nil.
// Caller must hold Mu.
func (r *Room) FindPlayer(userID string) *Player {
	for _, p := range r.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// ActivePlayers returns players that still count towards the all-answered
// check, i.e. everyone not currently disconnected. Caller must hold Mu.
func (r *Room) ActivePlayers() []*Player {
	active := make([]*Player, 0, len(r.Players))
	for _, p := range r.Players {
		if p.Status != PlayerDisconnected {
			active = append(active, p)
		}
	}
	return active
}

// CurrentQuestion returns the active question, or nil when no question is
// in flight. Caller must hold Mu.
func (r *Room) CurrentQuestion() *Question {
	if r.Status != RoomPlaying {
		return nil
	}
	if r.CurrentQuestionIndex < 0 || r.CurrentQuestionIndex >= len(r.Questions) {
		return nil
	}
	return &r.Questions[r.CurrentQuestionIndex]
}

func (r *Room) Touch(now time.Time) {
	r.UpdatedAt = now
}
