package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trivialive/models"
)

// fakeHub records broadcasts instead of writing to sockets.
type fakeHub struct {
	mu     sync.Mutex
	events []models.GameEvent
}

func (f *fakeHub) BroadcastToRoom(roomID string, event models.GameEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeHub) ofType(t models.EventType) []models.GameEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GameEvent
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeHub) countOf(t models.EventType) int {
	return len(f.ofType(t))
}

func (f *fakeHub) snapshot() []models.GameEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.GameEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fakeProvider struct {
	questions []models.Question
	err       error
}

func (f *fakeProvider) FetchQuestions(ctx context.Context, topic, difficulty string, count int) ([]models.Question, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.questions, nil
}

type fakeSettler struct {
	mu      sync.Mutex
	err     error
	records []*models.GameRecord
}

func (f *fakeSettler) SettleGame(ctx context.Context, record *models.GameRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeSettler) settled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type testEngine struct {
	clock     *clockwork.FakeClock
	hub       *fakeHub
	registry  *RoomRegistry
	scheduler *QuestionScheduler
	provider  *fakeProvider
	settler   *fakeSettler
	game      *GameService
	answers   *AnswerProcessor
	sessions  *ConnectionManager
}

func newTestEngine(questions []models.Question) *testEngine {
	clock := clockwork.NewFakeClock()
	hub := &fakeHub{}
	log := zerolog.Nop()

	registry := NewRoomRegistry(clock, log)
	scheduler := NewQuestionScheduler(registry, hub, clock, log)
	provider := &fakeProvider{questions: questions}
	settler := &fakeSettler{}
	game := NewGameService(registry, provider, scheduler, hub, settler, nil, clock, log)
	answers := NewAnswerProcessor(registry, scheduler, hub, clock, log)
	sessions := NewConnectionManager(registry, game, scheduler, hub, nil, clock, 30*time.Second, log)

	return &testEngine{
		clock:     clock,
		hub:       hub,
		registry:  registry,
		scheduler: scheduler,
		provider:  provider,
		settler:   settler,
		game:      game,
		answers:   answers,
		sessions:  sessions,
	}
}

func identityFor(userID string) models.Identity {
	return models.Identity{UserID: userID, Email: userID + "@example.com", Role: "player"}
}

func sampleQuestions(n int) []models.Question {
	questions := make([]models.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, models.Question{
			ID:           "q-" + string(rune('1'+i)),
			Text:         "question",
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 1,
			Topic:        "general",
			Difficulty:   "easy",
		})
	}
	return questions
}

// startGame creates a room hosted by "host", joins the extra players and
// moves it to PLAYING.
func startGame(t *testing.T, e *testEngine, config models.RoomConfig, extra ...string) *models.Room {
	t.Helper()
	room, err := e.game.CreateRoom(identityFor("host"), "Host", config)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for _, id := range extra {
		if _, err := e.sessions.JoinAsUser(identityFor(id), room.RoomID, id); err != nil {
			t.Fatalf("JoinAsUser(%s): %v", id, err)
		}
	}
	if _, err := e.game.StartGame(context.Background(), room.RoomID, "host"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	return room
}

// waitFor polls until cond holds or the deadline passes. Timer callbacks
// run on scheduler goroutines, so broadcast assertions need to wait.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}
