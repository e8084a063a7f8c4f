package models

import "time"

type PlayerStatus string

const (
	PlayerWaiting      PlayerStatus = "waiting"
	PlayerReady        PlayerStatus = "ready"
	PlayerPlaying      PlayerStatus = "playing"
	PlayerAnswered     PlayerStatus = "answered"
	PlayerDisconnected PlayerStatus = "disconnected"
	PlayerFinished     PlayerStatus = "finished"
)

// Player is a participant inside a single room. It is embedded in
// Room.Players and never referenced outside its owning room.
type Player struct {
	UserID           string       `json:"user_id"`
	Email            string       `json:"email"`
	DisplayName      string       `json:"display_name"`
	Score            int          `json:"score"`
	Status           PlayerStatus `json:"status"`
	IsHost           bool         `json:"is_host"`
	AnswersSubmitted int          `json:"answers_submitted"`
	CorrectAnswers   int          `json:"correct_answers"`
	CurrentAnswer    *int         `json:"current_answer,omitempty"`
	Streak           int          `json:"-"`
	TimeSpent        int          `json:"time_spent"` // accumulated seconds across questions
	JoinedAt         time.Time    `json:"joined_at"`
}

// HasAnsweredCurrent reports whether the player already answered the
// question currently in flight.
func (p *Player) HasAnsweredCurrent() bool {
	return p.CurrentAnswer != nil
}

// ResetForQuestion clears per-question state when a new question starts.
func (p *Player) ResetForQuestion() {
	p.CurrentAnswer = nil
	if p.Status == PlayerAnswered {
		p.Status = PlayerPlaying
	}
}
