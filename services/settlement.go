package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"trivialive/models"
)

// Settler records a finished game and triggers score settlement. Invoked
// once per finished game; failures never block the room reaching FINISHED.
type Settler interface {
	SettleGame(ctx context.Context, record *models.GameRecord) error
}

// SettlementService persists finished-game records and per-player results.
type SettlementService struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewSettlementService(db *gorm.DB, log zerolog.Logger) *SettlementService {
	return &SettlementService{
		db:  db,
		log: log.With().Str("component", "settlement").Logger(),
	}
}

func (s *SettlementService) SettleGame(ctx context.Context, record *models.GameRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to persist game record: %w", err)
	}
	s.log.Info().Str("room_id", record.RoomID).Str("winner_id", record.WinnerID).
		Int("players", len(record.Results)).Msg("game settled")
	return nil
}
