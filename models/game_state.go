package models

import "time"

// GameState is the derived, client-facing view of a room in play. It is
// recomputed on demand; nothing persists it as a source of truth.
type GameState struct {
	RoomID               string         `json:"room_id"`
	Status               RoomStatus     `json:"status"`
	CurrentQuestion      *Question      `json:"current_question,omitempty"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	TotalQuestions       int            `json:"total_questions"`
	TimeRemaining        int            `json:"time_remaining"` // seconds
	PlayersAnswers       map[string]int `json:"players_answers"`
	PlayersScores        map[string]int `json:"players_scores"`
	Leaderboard          []*Player      `json:"leaderboard"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
}

// Identity is the verified identity attached to a connection by the auth
// collaborator.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}
