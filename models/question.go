package models

import (
	"time"

	"gorm.io/gorm"
)

// Question is the in-play shape handed out by the question provider.
// CorrectIndex is never serialized to clients while a game is running;
// results reveal it through the question_ended payload instead.
type Question struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"-"`
	Topic        string   `json:"topic"`
	Difficulty   string   `json:"difficulty"`
}

// QuestionRow is a question-bank record. Options hang off it the same way
// they would in any quiz schema; exactly one option per question is correct.
type QuestionRow struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	Topic      string         `json:"topic" gorm:"index;not null"`
	Difficulty string         `json:"difficulty" gorm:"index;not null"`
	Text       string         `json:"text" gorm:"not null"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`

	Options []OptionRow `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
}

type OptionRow struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	QuestionID uint           `json:"question_id" gorm:"not null"`
	Text       string         `json:"text" gorm:"not null"`
	IsCorrect  bool           `json:"is_correct" gorm:"not null;default:false"`
	Order      int            `json:"order" gorm:"not null"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}
