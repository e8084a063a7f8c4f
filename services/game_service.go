package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trivialive/models"
)

const settleTimeout = 5 * time.Second

// GameService enforces the room lifecycle: WAITING -> PLAYING ->
// {FINISHED, CANCELLED}. Any other requested transition fails with
// ErrInvalidRoomState and leaves the room untouched.
type GameService struct {
	registry   *RoomRegistry
	provider   QuestionProvider
	scheduler  *QuestionScheduler
	hub        Broadcaster
	settlement Settler
	snapshots  *StateCache
	clock      clockwork.Clock
	log        zerolog.Logger
}

func NewGameService(
	registry *RoomRegistry,
	provider QuestionProvider,
	scheduler *QuestionScheduler,
	hub Broadcaster,
	settlement Settler,
	snapshots *StateCache,
	clock clockwork.Clock,
	log zerolog.Logger,
) *GameService {
	gs := &GameService{
		registry:   registry,
		provider:   provider,
		scheduler:  scheduler,
		hub:        hub,
		settlement: settlement,
		snapshots:  snapshots,
		clock:      clock,
		log:        log.With().Str("component", "game_service").Logger(),
	}
	scheduler.SetGameCompleteFunc(gs.FinishGame)
	registry.SetTimerCanceller(scheduler.CancelRoom)
	return gs
}

// CreateRoom opens a WAITING room with the caller as host.
func (g *GameService) CreateRoom(identity models.Identity, displayName string, config models.RoomConfig) (*models.Room, error) {
	if displayName == "" {
		displayName = identity.Email
	}
	host := &models.Player{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: displayName,
	}
	room, err := g.registry.Create(config, host)
	if err != nil {
		return nil, err
	}
	g.snapshotRoom(room)
	return room, nil
}

// StartGame transitions the room to PLAYING. Only the host may start, at
// least one player must be present, and the question batch must arrive from
// the provider. The room status is re-checked once the fetch returns, since
// a cancellation may have happened during the wait.
func (g *GameService) StartGame(ctx context.Context, roomID, userID string) (*models.Room, error) {
	room, err := g.registry.Find(roomID)
	if err != nil {
		return nil, err
	}
	roomID = room.RoomID

	room.Mu.Lock()
	if room.Status != models.RoomWaiting {
		room.Mu.Unlock()
		return nil, models.ErrInvalidRoomState
	}
	if room.HostID != userID {
		room.Mu.Unlock()
		return nil, models.ErrUnauthorized
	}
	if len(room.Players) == 0 {
		room.Mu.Unlock()
		return nil, models.ErrInvalidRoomState
	}
	topic := room.Config.Topic
	difficulty := room.Config.Difficulty
	count := room.Config.QuestionsPerRequest
	room.Mu.Unlock()

	questions, err := g.provider.FetchQuestions(ctx, topic, difficulty, count)
	if err != nil {
		g.log.Error().Err(err).Str("room_id", roomID).Msg("question batch fetch failed")
		if errors.Is(err, models.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, models.ErrProviderUnavailable
	}

	room.Mu.Lock()
	// The fetch awaited an external collaborator; the room may have been
	// cancelled or emptied in the meantime.
	if room.Status != models.RoomWaiting {
		room.Mu.Unlock()
		return nil, models.ErrInvalidRoomState
	}
	now := g.clock.Now()
	room.Status = models.RoomPlaying
	room.Questions = questions
	room.CurrentQuestionIndex = 0
	room.StartTime = &now
	for _, p := range room.Players {
		if p.Status != models.PlayerDisconnected {
			p.Status = models.PlayerPlaying
		}
	}
	room.Touch(now)
	players := RankPlayers(room.Players)
	total := len(questions)
	room.Mu.Unlock()

	g.log.Info().Str("room_id", roomID).Int("questions", total).Msg("game started")

	g.hub.BroadcastToRoom(roomID, models.NewGameEvent(models.EventGameStarted, roomID, now, map[string]any{
		"room_id":         roomID,
		"total_questions": total,
		"players":         players,
		"started_at":      now,
	}))

	if err := g.scheduler.StartQuestion(roomID); err != nil {
		g.log.Error().Err(err).Str("room_id", roomID).Msg("failed to start first question")
	}
	g.snapshotRoom(room)
	return room, nil
}

// FinishGame closes out a PLAYING room whose questions are exhausted:
// computes the winner, settles, broadcasts GAME_ENDED and reaps the room.
// Settlement failure flags the result as unconfirmed but never blocks
// reaching FINISHED.
func (g *GameService) FinishGame(roomID string) {
	room, err := g.registry.Find(roomID)
	if err != nil {
		return
	}

	room.Mu.Lock()
	if room.Status != models.RoomPlaying {
		room.Mu.Unlock()
		return
	}
	now := g.clock.Now()
	room.Status = models.RoomFinished
	room.EndTime = &now
	for _, p := range room.Players {
		p.Status = models.PlayerFinished
	}
	room.Touch(now)
	leaderboard := RankPlayers(room.Players)
	record := g.buildRecord(room, leaderboard, now)
	total := len(room.Questions)
	room.Mu.Unlock()

	var winner *models.Player
	if len(leaderboard) > 0 {
		winner = leaderboard[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	settlementPending := false
	if err := g.settlement.SettleGame(ctx, record); err != nil {
		settlementPending = true
		room.Mu.Lock()
		room.SettlementPending = true
		room.Mu.Unlock()
		g.log.Error().Err(err).Str("room_id", roomID).Msg("settlement failed, flagged for retry")
	}

	g.log.Info().Str("room_id", roomID).Msg("game finished")

	g.hub.BroadcastToRoom(roomID, models.NewGameEvent(models.EventGameEnded, roomID, now, map[string]any{
		"winner":             winner,
		"leaderboard":        leaderboard,
		"total_questions":    total,
		"settlement_pending": settlementPending,
	}))

	g.snapshotRoom(room)
	if err := g.registry.Remove(roomID); err != nil && !errors.Is(err, models.ErrRoomNotFound) {
		g.log.Error().Err(err).Str("room_id", roomID).Msg("failed to reap finished room")
	}
}

// CancelRoom moves a room to CANCELLED, cancels its timers, broadcasts the
// closure and reaps it. requestedBy is empty for system-initiated
// cancellation (e.g. all players gone); otherwise it must be the host.
func (g *GameService) CancelRoom(roomID, requestedBy string) error {
	room, err := g.registry.Find(roomID)
	if err != nil {
		return err
	}
	roomID = room.RoomID

	room.Mu.Lock()
	if room.Status.Terminal() {
		room.Mu.Unlock()
		return models.ErrInvalidRoomState
	}
	if requestedBy != "" && room.HostID != requestedBy {
		room.Mu.Unlock()
		return models.ErrUnauthorized
	}
	now := g.clock.Now()
	room.Status = models.RoomCancelled
	room.EndTime = &now
	room.Touch(now)
	room.Mu.Unlock()

	g.scheduler.CancelRoom(roomID)

	g.log.Info().Str("room_id", roomID).Str("requested_by", requestedBy).Msg("room cancelled")

	// Room-closing events are always broadcast so remaining clients can
	// navigate away cleanly.
	g.hub.BroadcastToRoom(roomID, models.NewGameEvent(models.EventRoomUpdated, roomID, now, map[string]any{
		"status": models.RoomCancelled,
	}))

	g.snapshotRoom(room)
	if err := g.registry.Remove(roomID); err != nil && !errors.Is(err, models.ErrRoomNotFound) {
		return err
	}
	return nil
}

// State derives the client-facing game state. Rooms already reaped from the
// registry fall back to the snapshot cache so late fetches of final
// standings still resolve.
func (g *GameService) State(ctx context.Context, roomID string) (*models.GameState, error) {
	room, err := g.registry.Find(roomID)
	if err != nil {
		if cached := g.snapshots.Get(ctx, strings.ToUpper(roomID)); cached != nil {
			return cached, nil
		}
		return nil, err
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()
	return g.stateLocked(room), nil
}

func (g *GameService) stateLocked(room *models.Room) *models.GameState {
	state := &models.GameState{
		RoomID:               room.RoomID,
		Status:               room.Status,
		CurrentQuestionIndex: room.CurrentQuestionIndex,
		TotalQuestions:       len(room.Questions),
		PlayersAnswers:       make(map[string]int),
		PlayersScores:        make(map[string]int),
		Leaderboard:          RankPlayers(room.Players),
		StartedAt:            room.StartTime,
	}
	for _, p := range room.Players {
		state.PlayersScores[p.UserID] = p.Score
		if p.CurrentAnswer != nil {
			state.PlayersAnswers[p.UserID] = *p.CurrentAnswer
		}
	}
	if q := room.CurrentQuestion(); q != nil {
		state.CurrentQuestion = q
		limit := time.Duration(room.Config.TimePerQuestion) * time.Second
		remaining := limit - g.clock.Now().Sub(room.CurrentQuestionStartTime)
		if remaining < 0 {
			remaining = 0
		}
		state.TimeRemaining = int(remaining.Seconds())
	}
	return state
}

func (g *GameService) snapshotRoom(room *models.Room) {
	room.Mu.Lock()
	state := g.stateLocked(room)
	room.Mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g.snapshots.Store(ctx, state)
}

func (g *GameService) buildRecord(room *models.Room, leaderboard []*models.Player, now time.Time) *models.GameRecord {
	record := &models.GameRecord{
		RoomID:         room.RoomID,
		Topic:          room.Config.Topic,
		Difficulty:     room.Config.Difficulty,
		GameMode:       room.Config.GameMode,
		TotalQuestions: len(room.Questions),
		StartedAt:      room.StartTime,
		EndedAt:        &now,
	}
	if len(leaderboard) > 0 {
		record.WinnerID = leaderboard[0].UserID
	}
	for i, p := range leaderboard {
		record.Results = append(record.Results, models.PlayerResult{
			UserID:         p.UserID,
			DisplayName:    p.DisplayName,
			Score:          p.Score,
			CorrectAnswers: p.CorrectAnswers,
			Rank:           i + 1,
		})
	}
	return record
}
