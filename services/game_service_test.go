package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"trivialive/models"
)

func TestStartGameOnlyHostMayStart(t *testing.T) {
	e := newTestEngine(sampleQuestions(1))
	room, err := e.game.CreateRoom(identityFor("host"), "Host", models.RoomConfig{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := e.sessions.JoinAsUser(identityFor("p2"), room.RoomID, "P2"); err != nil {
		t.Fatalf("JoinAsUser: %v", err)
	}

	if _, err := e.game.StartGame(context.Background(), room.RoomID, "p2"); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("non-host start = %v, want ErrUnauthorized", err)
	}

	room.Mu.Lock()
	status := room.Status
	room.Mu.Unlock()
	if status != models.RoomWaiting {
		t.Errorf("room status after rejected start = %q, want %q", status, models.RoomWaiting)
	}
}

func TestStartGameTwiceRejected(t *testing.T) {
	e := newTestEngine(sampleQuestions(1))
	room := startGame(t, e, models.RoomConfig{TimePerQuestion: 30})

	if _, err := e.game.StartGame(context.Background(), room.RoomID, "host"); !errors.Is(err, models.ErrInvalidRoomState) {
		t.Errorf("second start = %v, want ErrInvalidRoomState", err)
	}
	if n := e.hub.countOf(models.EventGameStarted); n != 1 {
		t.Errorf("GAME_STARTED count = %d, want 1", n)
	}
}

func TestStartGameProviderFailureLeavesRoomWaiting(t *testing.T) {
	e := newTestEngine(nil)
	e.provider.err = errors.New("upstream down")

	room, err := e.game.CreateRoom(identityFor("host"), "Host", models.RoomConfig{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if _, err := e.game.StartGame(context.Background(), room.RoomID, "host"); !errors.Is(err, models.ErrProviderUnavailable) {
		t.Fatalf("start with failing provider = %v, want ErrProviderUnavailable", err)
	}

	room.Mu.Lock()
	status := room.Status
	room.Mu.Unlock()
	if status != models.RoomWaiting {
		t.Errorf("room status = %q, want %q (retry must stay possible)", status, models.RoomWaiting)
	}
	if e.scheduler.HasTimer(room.RoomID) {
		t.Error("no timer may be armed after a failed start")
	}

	// The provider recovering makes the same start succeed.
	e.provider.err = nil
	e.provider.questions = sampleQuestions(1)
	if _, err := e.game.StartGame(context.Background(), room.RoomID, "host"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}

func TestFullGameFlow(t *testing.T) {
	e := newTestEngine(sampleQuestions(2))
	room := startGame(t, e, models.RoomConfig{TimePerQuestion: 30}, "p2")
	code := room.RoomID

	// Question 1: host answers correctly at once, p2 misses.
	if _, err := e.answers.Submit(code, "host", "q-1", 1, 0); err != nil {
		t.Fatalf("host q-1: %v", err)
	}
	if _, err := e.answers.Submit(code, "p2", "q-1", 3, 10); err != nil {
		t.Fatalf("p2 q-1: %v", err)
	}

	// Question 2: both correct, host faster and on a streak.
	if _, err := e.answers.Submit(code, "host", "q-2", 1, 0); err != nil {
		t.Fatalf("host q-2: %v", err)
	}
	if _, err := e.answers.Submit(code, "p2", "q-2", 1, 15); err != nil {
		t.Fatalf("p2 q-2: %v", err)
	}

	ended := e.hub.ofType(models.EventGameEnded)
	if len(ended) != 1 {
		t.Fatalf("GAME_ENDED count = %d, want 1", len(ended))
	}
	payload := ended[0].Data.(map[string]any)
	winner := payload["winner"].(*models.Player)
	if winner.UserID != "host" {
		t.Errorf("winner = %q, want host", winner.UserID)
	}
	if winner.Score != 310 {
		t.Errorf("winner score = %d, want 310", winner.Score)
	}
	leaderboard := payload["leaderboard"].([]*models.Player)
	if len(leaderboard) != 2 || leaderboard[1].UserID != "p2" || leaderboard[1].Score != 125 {
		t.Errorf("leaderboard = %+v, want p2 second with 125", leaderboard)
	}
	if payload["settlement_pending"] != false {
		t.Error("settlement_pending should be false on successful settlement")
	}
	if payload["total_questions"] != 2 {
		t.Errorf("total_questions = %v, want 2", payload["total_questions"])
	}

	// Events arrive in lifecycle order.
	order := map[models.EventType]int{}
	for i, ev := range e.hub.snapshot() {
		if _, seen := order[ev.Type]; !seen {
			order[ev.Type] = i
		}
	}
	if !(order[models.EventGameStarted] < order[models.EventQuestionStarted] &&
		order[models.EventQuestionStarted] < order[models.EventQuestionEnded] &&
		order[models.EventQuestionEnded] < order[models.EventGameEnded]) {
		t.Errorf("event order wrong: %v", order)
	}

	// Settlement recorded the final standings once.
	if e.settler.settled() != 1 {
		t.Fatalf("settled records = %d, want 1", e.settler.settled())
	}
	record := e.settler.records[0]
	if record.WinnerID != "host" || record.TotalQuestions != 2 {
		t.Errorf("record = winner %q, questions %d; want host, 2", record.WinnerID, record.TotalQuestions)
	}
	if len(record.Results) != 2 || record.Results[0].Rank != 1 || record.Results[1].Rank != 2 {
		t.Errorf("record results = %+v, want ranks 1 and 2", record.Results)
	}

	// The finished room is reaped.
	if _, err := e.registry.Find(code); !errors.Is(err, models.ErrRoomNotFound) {
		t.Errorf("finished room still findable: %v", err)
	}
}

func TestFinishGameSettlementFailureFlagged(t *testing.T) {
	e := newTestEngine(sampleQuestions(1))
	e.settler.err = errors.New("records store down")
	room := startGame(t, e, models.RoomConfig{TimePerQuestion: 5})

	e.clock.Advance(5 * time.Second)
	waitFor(t, func() bool { return e.hub.countOf(models.EventGameEnded) == 1 }, "game never ended")

	payload := e.hub.ofType(models.EventGameEnded)[0].Data.(map[string]any)
	if payload["settlement_pending"] != true {
		t.Error("settlement_pending should be true when settlement fails")
	}

	room.Mu.Lock()
	pending := room.SettlementPending
	status := room.Status
	room.Mu.Unlock()
	if !pending {
		t.Error("room not flagged SettlementPending")
	}
	if status != models.RoomFinished {
		t.Errorf("room status = %q, want %q (settlement failure must not block finishing)", status, models.RoomFinished)
	}
}

func TestCancelRoomRequiresHost(t *testing.T) {
	e := newTestEngine(sampleQuestions(1))
	room := startGame(t, e, models.RoomConfig{TimePerQuestion: 30}, "p2")

	if err := e.game.CancelRoom(room.RoomID, "p2"); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("non-host cancel = %v, want ErrUnauthorized", err)
	}
	if err := e.game.CancelRoom(room.RoomID, "host"); err != nil {
		t.Fatalf("host cancel: %v", err)
	}
	if _, err := e.registry.Find(room.RoomID); !errors.Is(err, models.ErrRoomNotFound) {
		t.Errorf("cancelled room still findable: %v", err)
	}
	if err := e.game.CancelRoom(room.RoomID, "host"); !errors.Is(err, models.ErrRoomNotFound) {
		t.Errorf("second cancel = %v, want ErrRoomNotFound", err)
	}

	updated := e.hub.ofType(models.EventRoomUpdated)
	if len(updated) == 0 {
		t.Fatal("no ROOM_UPDATED broadcast on cancellation")
	}
	payload := updated[len(updated)-1].Data.(map[string]any)
	if payload["status"] != models.RoomCancelled {
		t.Errorf("broadcast status = %v, want %q", payload["status"], models.RoomCancelled)
	}
}

func TestStateDuringPlay(t *testing.T) {
	e := newTestEngine(sampleQuestions(2))
	room := startGame(t, e, models.RoomConfig{TimePerQuestion: 30}, "p2")

	if _, err := e.answers.Submit(room.RoomID, "host", "q-1", 1, 0); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.clock.Advance(10 * time.Second)

	state, err := e.game.State(context.Background(), room.RoomID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Status != models.RoomPlaying {
		t.Errorf("status = %q, want %q", state.Status, models.RoomPlaying)
	}
	if state.CurrentQuestion == nil || state.CurrentQuestion.ID != "q-1" {
		t.Fatalf("current question = %+v, want q-1", state.CurrentQuestion)
	}
	if state.TimeRemaining != 20 {
		t.Errorf("TimeRemaining = %d, want 20", state.TimeRemaining)
	}
	if state.TotalQuestions != 2 {
		t.Errorf("TotalQuestions = %d, want 2", state.TotalQuestions)
	}
	if state.PlayersScores["host"] != 150 {
		t.Errorf("host score in state = %d, want 150", state.PlayersScores["host"])
	}
	if _, answered := state.PlayersAnswers["p2"]; answered {
		t.Error("p2 marked answered without a submission")
	}
}

func TestStateUnknownRoom(t *testing.T) {
	e := newTestEngine(nil)
	if _, err := e.game.State(context.Background(), "ZZZZZZZZ"); !errors.Is(err, models.ErrRoomNotFound) {
		t.Errorf("State unknown room = %v, want ErrRoomNotFound", err)
	}
}
