package services

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"trivialive/models"
)

// QuestionProvider supplies an ordered question batch for a game. The
// engine treats it as an external collaborator; a failed fetch surfaces as
// ErrProviderUnavailable and the game never starts.
type QuestionProvider interface {
	FetchQuestions(ctx context.Context, topic, difficulty string, count int) ([]models.Question, error)
}

// DBQuestionProvider draws questions from the question bank tables.
type DBQuestionProvider struct {
	db *gorm.DB
}

func NewDBQuestionProvider(db *gorm.DB) *DBQuestionProvider {
	return &DBQuestionProvider{db: db}
}

func (p *DBQuestionProvider) FetchQuestions(ctx context.Context, topic, difficulty string, count int) ([]models.Question, error) {
	var rows []models.QuestionRow
	query := p.db.WithContext(ctx).Preload("Options")
	if topic != "" {
		query = query.Where("topic = ?", topic)
	}
	if difficulty != "" {
		query = query.Where("difficulty = ?", difficulty)
	}
	if err := query.Order("RANDOM()").Limit(count).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("question bank query failed: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrProviderUnavailable
	}

	questions := make([]models.Question, 0, len(rows))
	for _, row := range rows {
		sort.Slice(row.Options, func(i, j int) bool {
			return row.Options[i].Order < row.Options[j].Order
		})
		q := models.Question{
			ID:           fmt.Sprintf("q-%d", row.ID),
			Text:         row.Text,
			Topic:        row.Topic,
			Difficulty:   row.Difficulty,
			Options:      make([]string, 0, len(row.Options)),
			CorrectIndex: -1,
		}
		for i, opt := range row.Options {
			q.Options = append(q.Options, opt.Text)
			if opt.IsCorrect {
				q.CorrectIndex = i
			}
		}
		if q.CorrectIndex < 0 {
			// A bank row without a correct option is unusable; skip it.
			continue
		}
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, models.ErrProviderUnavailable
	}
	return questions, nil
}
