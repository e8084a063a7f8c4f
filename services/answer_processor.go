package services

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trivialive/models"
)

const (
	basePoints     = 100
	maxTimeBonus   = 50
	streakStep     = 10
	maxStreakBonus = 50
)

// AnswerResult is what the submitting player gets back. Correctness is
// revealed only to the submitter until the question ends.
type AnswerResult struct {
	RoomID      string           `json:"room_id"`
	QuestionID  string           `json:"question_id"`
	IsCorrect   bool             `json:"is_correct"`
	ScoreEarned int              `json:"score_earned"`
	Leaderboard []*models.Player `json:"leaderboard"`
}

// AnswerProcessor validates and scores inbound answers. A player's state is
// updated at most once per question; the first accepted submission wins and
// replays are rejected, never overwritten.
type AnswerProcessor struct {
	registry  *RoomRegistry
	scheduler *QuestionScheduler
	hub       Broadcaster
	clock     clockwork.Clock
	log       zerolog.Logger
}

func NewAnswerProcessor(registry *RoomRegistry, scheduler *QuestionScheduler, hub Broadcaster, clock clockwork.Clock, log zerolog.Logger) *AnswerProcessor {
	return &AnswerProcessor{
		registry:  registry,
		scheduler: scheduler,
		hub:       hub,
		clock:     clock,
		log:       log.With().Str("component", "answer_processor").Logger(),
	}
}

// Submit records one player's answer to the room's current question.
func (a *AnswerProcessor) Submit(roomID, userID, questionID string, answerIndex, timeSpent int) (*AnswerResult, error) {
	room, err := a.registry.Find(roomID)
	if err != nil {
		return nil, err
	}
	roomID = room.RoomID

	room.Mu.Lock()
	if room.Status != models.RoomPlaying {
		room.Mu.Unlock()
		return nil, models.ErrInvalidRoomState
	}
	player := room.FindPlayer(userID)
	if player == nil {
		room.Mu.Unlock()
		return nil, models.ErrPlayerNotInRoom
	}
	question := room.CurrentQuestion()
	if question == nil || question.ID != questionID {
		room.Mu.Unlock()
		return nil, models.ErrQuestionMismatch
	}
	if player.HasAnsweredCurrent() {
		room.Mu.Unlock()
		return nil, models.ErrDuplicateAnswer
	}

	limit := room.Config.TimePerQuestion
	if timeSpent < 0 {
		timeSpent = 0
	}
	if timeSpent > limit {
		timeSpent = limit
	}

	isCorrect := answerIndex >= 0 && answerIndex < len(question.Options) && answerIndex == question.CorrectIndex
	earned := scorePoints(isCorrect, timeSpent, limit, player.Streak)

	answer := answerIndex
	player.CurrentAnswer = &answer
	player.AnswersSubmitted++
	player.TimeSpent += timeSpent
	player.Status = models.PlayerAnswered
	if isCorrect {
		player.CorrectAnswers++
		player.Streak++
	} else {
		player.Streak = 0
	}
	player.Score += earned

	now := a.clock.Now()
	room.Touch(now)
	leaderboard := RankPlayers(room.Players)
	answeredCount := 0
	for _, p := range room.ActivePlayers() {
		if p.HasAnsweredCurrent() {
			answeredCount++
		}
	}
	room.Mu.Unlock()

	a.log.Debug().Str("room_id", roomID).Str("user_id", userID).
		Bool("correct", isCorrect).Int("score_earned", earned).Msg("answer accepted")

	// Correctness stays hidden from the room until question_ended.
	a.hub.BroadcastToRoom(roomID, models.NewGameEvent(models.EventAnswerReceived, roomID, now, map[string]any{
		"user_id":        userID,
		"question_id":    questionID,
		"answered_count": answeredCount,
	}))
	a.hub.BroadcastToRoom(roomID, models.NewGameEvent(models.EventLeaderboardUpdate, roomID, now, map[string]any{
		"leaderboard": leaderboard,
	}))

	a.scheduler.NotifyAnswer(roomID)

	return &AnswerResult{
		RoomID:      roomID,
		QuestionID:  questionID,
		IsCorrect:   isCorrect,
		ScoreEarned: earned,
		Leaderboard: leaderboard,
	}, nil
}

// scorePoints awards a flat base for a correct answer, a bonus shrinking
// with elapsed time, and a bonus for an unbroken streak of correct answers.
func scorePoints(isCorrect bool, timeSpent, timeLimit, streak int) int {
	if !isCorrect {
		return 0
	}
	timeBonus := 0
	if timeLimit > 0 {
		timeBonus = maxTimeBonus * (timeLimit - timeSpent) / timeLimit
		if timeBonus < 0 {
			timeBonus = 0
		}
	}
	streakBonus := streak * streakStep
	if streakBonus > maxStreakBonus {
		streakBonus = maxStreakBonus
	}
	return basePoints + timeBonus + streakBonus
}
