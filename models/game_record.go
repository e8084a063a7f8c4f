package models

import (
	"time"

	"gorm.io/gorm"
)

// GameRecord is the persisted summary of a finished game, written once per
// game by the settlement service.
type GameRecord struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	RoomID         string         `json:"room_id" gorm:"uniqueIndex;not null"`
	Topic          string         `json:"topic"`
	Difficulty     string         `json:"difficulty"`
	GameMode       string         `json:"game_mode"`
	WinnerID       string         `json:"winner_id"`
	TotalQuestions int            `json:"total_questions"`
	StartedAt      *time.Time     `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`

	Results []PlayerResult `json:"results,omitempty" gorm:"foreignKey:GameRecordID"`
}

// PlayerResult is one player's final line in a finished game.
type PlayerResult struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	GameRecordID   uint      `json:"game_record_id" gorm:"not null"`
	UserID         string    `json:"user_id" gorm:"not null"`
	DisplayName    string    `json:"display_name"`
	Score          int       `json:"score" gorm:"not null"`
	CorrectAnswers int       `json:"correct_answers" gorm:"not null"`
	Rank           int       `json:"rank" gorm:"not null"`
	CreatedAt      time.Time `json:"created_at"`
}
