package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"trivialive/handlers"
	"trivialive/models"
	"trivialive/routes"
	"trivialive/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvider struct {
	questions []models.Question
}

func (s stubProvider) FetchQuestions(ctx context.Context, topic, difficulty string, count int) ([]models.Question, error) {
	return s.questions, nil
}

type stubSettler struct{}

func (stubSettler) SettleGame(ctx context.Context, record *models.GameRecord) error {
	return nil
}

type testServer struct {
	router *gin.Engine
	auth   *services.AuthService
}

func newTestServer(t *testing.T, questions []models.Question) *testServer {
	t.Helper()
	log := zerolog.Nop()
	clock := clockwork.NewFakeClock()

	hub := services.NewHub(log)
	registry := services.NewRoomRegistry(clock, log)
	scheduler := services.NewQuestionScheduler(registry, hub, clock, log)
	game := services.NewGameService(registry, stubProvider{questions}, scheduler, hub, stubSettler{}, nil, clock, log)
	answers := services.NewAnswerProcessor(registry, scheduler, hub, clock, log)
	sessions := services.NewConnectionManager(registry, game, scheduler, hub, hub, clock, 30*time.Second, log)
	hub.Attach(sessions, game, answers)

	auth := services.NewAuthService("test-secret")
	handler := handlers.NewGameHandler(game, sessions, answers, registry)

	router := gin.New()
	routes.SetupRoutes(router, handler, hub, auth, log)

	return &testServer{router: router, auth: auth}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.auth.GenerateToken(models.Identity{
		UserID: userID,
		Email:  userID + "@example.com",
		Role:   "player",
	}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func questions(n int) []models.Question {
	qs := make([]models.Question, 0, n)
	for i := 0; i < n; i++ {
		qs = append(qs, models.Question{
			ID:           "q-" + string(rune('1'+i)),
			Text:         "question",
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 1,
		})
	}
	return qs
}

func createRoom(t *testing.T, s *testServer, token string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/rooms", token, map[string]any{
		"display_name": "Host",
		"config":       map[string]any{"topic": "science", "time_per_question": 30},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create room status = %d, body %s", rec.Code, rec.Body.String())
	}
	code, ok := decode(t, rec)["code"].(string)
	if !ok || code == "" {
		t.Fatal("create room response missing code")
	}
	return code
}

func TestRoomEndpointsRequireAuth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/rooms", "", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/rooms", "not-a-token", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}
}

func TestCreateJoinStartAnswerFlow(t *testing.T) {
	s := newTestServer(t, questions(2))
	hostToken := s.token(t, "host")
	playerToken := s.token(t, "p2")

	code := createRoom(t, s, hostToken)

	rec := s.do(t, http.MethodPost, "/api/rooms/"+code+"/join", playerToken, map[string]any{"display_name": "P2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/rooms/"+code+"/start", hostToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/rooms/"+code+"/answer", hostToken, map[string]any{
		"question_id": "q-1",
		"answer":      1,
		"time_spent":  0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decode(t, rec)
	if result["is_correct"] != true {
		t.Errorf("is_correct = %v, want true", result["is_correct"])
	}
	if result["score_earned"] != float64(150) {
		t.Errorf("score_earned = %v, want 150", result["score_earned"])
	}

	// Replay of the same question is a conflict.
	rec = s.do(t, http.MethodPost, "/api/rooms/"+code+"/answer", hostToken, map[string]any{
		"question_id": "q-1",
		"answer":      2,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate answer status = %d, want 409", rec.Code)
	}
	if decode(t, rec)["code"] != "DUPLICATE_ANSWER" {
		t.Errorf("duplicate answer code = %v, want DUPLICATE_ANSWER", decode(t, rec)["code"])
	}

	rec = s.do(t, http.MethodGet, "/api/rooms/"+code+"/state", playerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d, body %s", rec.Code, rec.Body.String())
	}
	state := decode(t, rec)["game_state"].(map[string]any)
	if state["status"] != string(models.RoomPlaying) {
		t.Errorf("state status = %v, want playing", state["status"])
	}
	if state["total_questions"] != float64(2) {
		t.Errorf("total_questions = %v, want 2", state["total_questions"])
	}
	question := state["current_question"].(map[string]any)
	if _, leaked := question["correct_index"]; leaked {
		t.Error("state response leaks the correct answer")
	}
}

func TestStartGameByNonHostForbidden(t *testing.T) {
	s := newTestServer(t, questions(1))
	hostToken := s.token(t, "host")
	playerToken := s.token(t, "p2")

	code := createRoom(t, s, hostToken)
	if rec := s.do(t, http.MethodPost, "/api/rooms/"+code+"/join", playerToken, map[string]any{}); rec.Code != http.StatusOK {
		t.Fatalf("join status = %d", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/rooms/"+code+"/start", playerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-host start status = %d, want 403", rec.Code)
	}
	if decode(t, rec)["code"] != "UNAUTHORIZED" {
		t.Errorf("error code = %v, want UNAUTHORIZED", decode(t, rec)["code"])
	}
}

func TestCancelRoomHostOnly(t *testing.T) {
	s := newTestServer(t, nil)
	hostToken := s.token(t, "host")
	playerToken := s.token(t, "p2")

	code := createRoom(t, s, hostToken)
	if rec := s.do(t, http.MethodPost, "/api/rooms/"+code+"/join", playerToken, map[string]any{}); rec.Code != http.StatusOK {
		t.Fatalf("join status = %d", rec.Code)
	}

	rec := s.do(t, http.MethodDelete, "/api/rooms/"+code, playerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-host cancel status = %d, want 403", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/api/rooms/"+code, hostToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("host cancel status = %d, body %s", rec.Code, rec.Body.String())
	}

	// A cancelled room is reaped; further joins cannot find it.
	rec = s.do(t, http.MethodPost, "/api/rooms/"+code+"/join", playerToken, map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("join after cancel status = %d, want 404", rec.Code)
	}
}

func TestUnknownRoomReturnsNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.token(t, "host")

	rec := s.do(t, http.MethodGet, "/api/rooms/ZZZZZZZZ", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decode(t, rec)
	if body["code"] != "ROOM_NOT_FOUND" || body["retryable"] != false {
		t.Errorf("body = %v, want ROOM_NOT_FOUND, not retryable", body)
	}
}

func TestSubmitAnswerRejectsMissingFields(t *testing.T) {
	s := newTestServer(t, questions(1))
	token := s.token(t, "host")
	code := createRoom(t, s, token)

	// Answer index 0 must survive binding, so the field is required but a
	// zero value is legal; omitting it entirely is not.
	rec := s.do(t, http.MethodPost, "/api/rooms/"+code+"/answer", token, map[string]any{
		"question_id": "q-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing answer status = %d, want 400", rec.Code)
	}
}

func TestSearchRooms(t *testing.T) {
	s := newTestServer(t, nil)
	hostToken := s.token(t, "host")
	createRoom(t, s, hostToken)

	rec := s.do(t, http.MethodGet, "/api/rooms?topic=science&status=waiting", hostToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body %s", rec.Code, rec.Body.String())
	}
	rooms := decode(t, rec)["rooms"].([]any)
	if len(rooms) != 1 {
		t.Errorf("matched %d rooms, want 1", len(rooms))
	}

	rec = s.do(t, http.MethodGet, "/api/rooms?topic=history", hostToken, nil)
	rooms = decode(t, rec)["rooms"].([]any)
	if len(rooms) != 0 {
		t.Errorf("matched %d rooms, want 0", len(rooms))
	}

	rec = s.do(t, http.MethodGet, "/api/rooms?max_players=lots", hostToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad max_players status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}
