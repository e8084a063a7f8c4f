package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trivialive/models"
)

// checkInterval drives the periodic all-answered sweep while a question is
// in flight.
const checkInterval = time.Second

// roomTimers is one room's timer pair: the periodic check ticker and the
// hard question timeout. The ended flag is the mutual-exclusion guard that
// lets whichever trigger fires first end the question exactly once.
type roomTimers struct {
	roomID        string
	questionIndex int
	ticker        clockwork.Ticker
	timeout       clockwork.Timer
	done          chan struct{}
	ended         atomic.Bool
}

// QuestionScheduler owns every live question countdown. Entries exist in the
// arena iff their room is PLAYING with an active question; every exit path
// (question end, room finish or cancel, shutdown) stops both handles.
type QuestionScheduler struct {
	registry *RoomRegistry
	hub      Broadcaster
	clock    clockwork.Clock
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*roomTimers

	// onGameComplete fires once the last question of a room has ended.
	// Wired to the game service at startup.
	onGameComplete func(roomID string)
}

func NewQuestionScheduler(registry *RoomRegistry, hub Broadcaster, clock clockwork.Clock, log zerolog.Logger) *QuestionScheduler {
	return &QuestionScheduler{
		registry: registry,
		hub:      hub,
		clock:    clock,
		log:      log.With().Str("component", "question_scheduler").Logger(),
		entries:  make(map[string]*roomTimers),
	}
}

func (s *QuestionScheduler) SetGameCompleteFunc(fn func(roomID string)) {
	s.onGameComplete = fn
}

// StartQuestion begins the room's current question: broadcasts
// QUESTION_STARTED, then arms the check ticker and the hard timeout.
func (s *QuestionScheduler) StartQuestion(roomID string) error {
	room, err := s.registry.Find(roomID)
	if err != nil {
		return err
	}

	room.Mu.Lock()
	if room.Status != models.RoomPlaying {
		room.Mu.Unlock()
		return models.ErrInvalidRoomState
	}
	idx := room.CurrentQuestionIndex
	if idx < 0 || idx >= len(room.Questions) {
		room.Mu.Unlock()
		return models.ErrInvalidRoomState
	}
	question := room.Questions[idx]
	now := s.clock.Now()
	room.CurrentQuestionStartTime = now
	for _, p := range room.Players {
		p.ResetForQuestion()
	}
	room.Touch(now)
	limit := time.Duration(room.Config.TimePerQuestion) * time.Second
	total := len(room.Questions)
	room.Mu.Unlock()

	// Broadcast before the timers arm so QUESTION_STARTED always precedes
	// any accepted answer for this question.
	s.hub.BroadcastToRoom(roomID, models.NewGameEvent(models.EventQuestionStarted, roomID, now, map[string]any{
		"question_index":  idx,
		"question":        question,
		"total_questions": total,
		"time_limit":      room.Config.TimePerQuestion,
	}))

	entry := &roomTimers{
		roomID:        roomID,
		questionIndex: idx,
		ticker:        s.clock.NewTicker(checkInterval),
		timeout:       s.clock.NewTimer(limit),
		done:          make(chan struct{}),
	}

	s.mu.Lock()
	if old := s.entries[roomID]; old != nil {
		s.stopEntry(old)
	}
	s.entries[roomID] = entry
	s.mu.Unlock()

	s.log.Info().Str("room_id", roomID).Int("question_index", idx).
		Dur("time_limit", limit).Msg("question started")

	go s.run(entry)
	return nil
}

// run is the per-question timer goroutine. A panic in any callback is
// recovered and force-ends the question rather than leaving timer state
// inconsistent.
func (s *QuestionScheduler) run(t *roomTimers) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Str("room_id", t.roomID).Interface("panic", rec).
				Msg("timer callback panicked, force-ending question")
			s.endQuestion(t, "panic")
		}
	}()

	for {
		select {
		case <-t.ticker.Chan():
			s.checkAllAnswered(t)
		case <-t.timeout.Chan():
			s.endQuestion(t, "timeout")
			return
		case <-t.done:
			return
		}
	}
}

// NotifyAnswer re-runs the all-answered check immediately after an accepted
// submission or after a player stops counting towards it.
func (s *QuestionScheduler) NotifyAnswer(roomID string) {
	s.mu.Lock()
	entry := s.entries[roomID]
	s.mu.Unlock()
	if entry != nil {
		s.checkAllAnswered(entry)
	}
}

// CancelRoom stops and removes the room's timer pair without ending the
// question. Used when a room is cancelled or reaped.
func (s *QuestionScheduler) CancelRoom(roomID string) {
	s.mu.Lock()
	entry := s.entries[roomID]
	delete(s.entries, roomID)
	s.mu.Unlock()
	if entry != nil {
		s.stopEntry(entry)
		s.log.Info().Str("room_id", roomID).Msg("room timers cancelled")
	}
}

// HasTimer reports whether a timer pair is live for the room.
func (s *QuestionScheduler) HasTimer(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[roomID] != nil
}

func (s *QuestionScheduler) checkAllAnswered(t *roomTimers) {
	if t.ended.Load() {
		return
	}
	room, err := s.registry.Find(t.roomID)
	if err != nil {
		s.CancelRoom(t.roomID)
		return
	}

	room.Mu.Lock()
	stale := room.Status != models.RoomPlaying || room.CurrentQuestionIndex != t.questionIndex
	answered := 0
	active := room.ActivePlayers()
	for _, p := range active {
		if p.HasAnsweredCurrent() {
			answered++
		}
	}
	allAnswered := len(active) > 0 && answered == len(active)
	room.Mu.Unlock()

	if stale {
		return
	}
	if allAnswered {
		s.endQuestion(t, "all-answered")
	}
}

// endQuestion closes out a question exactly once, whichever trigger fires
// first; the losing trigger's handle is stopped unconditionally.
func (s *QuestionScheduler) endQuestion(t *roomTimers, reason string) {
	if !t.ended.CompareAndSwap(false, true) {
		return
	}
	t.ticker.Stop()
	t.timeout.Stop()
	close(t.done)

	s.mu.Lock()
	if s.entries[t.roomID] == t {
		delete(s.entries, t.roomID)
	}
	s.mu.Unlock()

	room, err := s.registry.Find(t.roomID)
	if err != nil {
		return
	}

	room.Mu.Lock()
	if room.Status != models.RoomPlaying || room.CurrentQuestionIndex != t.questionIndex {
		room.Mu.Unlock()
		return
	}
	question := room.Questions[t.questionIndex]
	answers := make([]map[string]any, 0, len(room.Players))
	for _, p := range room.Players {
		entry := map[string]any{
			"user_id":  p.UserID,
			"answered": p.HasAnsweredCurrent(),
		}
		if p.CurrentAnswer != nil {
			entry["answer"] = *p.CurrentAnswer
			entry["is_correct"] = *p.CurrentAnswer == question.CorrectIndex
		}
		answers = append(answers, entry)
	}
	leaderboard := RankPlayers(room.Players)
	room.CurrentQuestionIndex++
	finished := room.CurrentQuestionIndex >= len(room.Questions)
	now := s.clock.Now()
	room.Touch(now)
	total := len(room.Questions)
	room.Mu.Unlock()

	s.log.Info().Str("room_id", t.roomID).Int("question_index", t.questionIndex).
		Str("reason", reason).Msg("question ended")

	s.hub.BroadcastToRoom(t.roomID, models.NewGameEvent(models.EventQuestionEnded, t.roomID, now, map[string]any{
		"question_index":  t.questionIndex,
		"question_id":     question.ID,
		"correct_index":   question.CorrectIndex,
		"answers":         answers,
		"leaderboard":     leaderboard,
		"total_questions": total,
	}))
	s.hub.BroadcastToRoom(t.roomID, models.NewGameEvent(models.EventLeaderboardUpdate, t.roomID, now, map[string]any{
		"leaderboard": leaderboard,
	}))

	if finished {
		if s.onGameComplete != nil {
			s.onGameComplete(t.roomID)
		}
		return
	}
	if err := s.StartQuestion(t.roomID); err != nil {
		s.log.Error().Err(err).Str("room_id", t.roomID).Msg("failed to start next question")
	}
}

// stopEntry silences an entry that is being replaced or cancelled. The CAS
// keeps a concurrent endQuestion from running for the same entry.
func (s *QuestionScheduler) stopEntry(t *roomTimers) {
	if t.ended.CompareAndSwap(false, true) {
		t.ticker.Stop()
		t.timeout.Stop()
		close(t.done)
	}
}
