package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestWebSocketAnswerFlow(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	server := httptest.NewServer(NewRouter(service, nil))
	defer server.Close()

	session, err := service.CreateSession(ctx, "quiz-1", 10)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	alice, err := service.Join(ctx, session.Code, "alice", "", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws?code=" + session.Code + "&participantId=" + alice.ID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect state snapshot first.
	_, payload := readNext(conn, t, "state")
	current, _ := payload["current"].(map[string]any)
	if current["status"] != string(domain.CurrentWaitingHost) {
		t.Fatalf("expected waiting_host before start, got %v", current["status"])
	}

	if err := service.StartGame(ctx, session.Code); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(conn, t, "game-started")
	_, payload = readNext(conn, t, "current")
	if payload["status"] != string(domain.CurrentActive) {
		t.Fatalf("expected active question after start, got %v", payload["status"])
	}

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId":     "q1",
			"optionId":       "o2",
			"responseTimeMs": 1500,
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	answerSeen := false
	eventSeen := false
	for i := 0; i < 5 && !(answerSeen && eventSeen); i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "answerResult":
			answerSeen = true
			if payload["status"] != string(domain.OutcomeCorrect) {
				t.Fatalf("expected correct outcome, got %v", payload)
			}
		case "answer-submitted":
			eventSeen = true
		}
	}
	if !answerSeen || !eventSeen {
		t.Fatalf("expected answerResult and answer-submitted, got answerResult=%v event=%v", answerSeen, eventSeen)
	}
}

func TestWebSocketHostControlsGame(t *testing.T) {
	ctx := context.Background()
	service := newTestService()
	server := httptest.NewServer(NewRouter(service, nil))
	defer server.Close()

	session, _ := service.CreateSession(ctx, "quiz-1", 10)
	u := "ws" + server.URL[len("http"):] + "/ws?code=" + session.Code
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readNext(conn, t, "state")

	if err := conn.WriteJSON(map[string]any{"type": "start"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	_, payload := readNext(conn, t, "error")
	if payload["code"] != "NoParticipants" {
		t.Fatalf("expected NoParticipants, got %v", payload)
	}

	if _, err := service.Join(ctx, session.Code, "bob", "", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(conn, t, "player-joined")

	_ = conn.WriteJSON(map[string]any{"type": "start"})
	waitFor(conn, t, "game-started")
	_ = conn.WriteJSON(map[string]any{"type": "finish"})
	waitFor(conn, t, "game-finished")
}

func TestWebSocketRejectsUnknownSession(t *testing.T) {
	server := httptest.NewServer(NewRouter(newTestService(), nil))
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?code=000000"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

// waitFor skips frames until one of the given type arrives.
func waitFor(conn *websocket.Conn, t *testing.T, typ string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		got, payload := readNext(conn, t, "")
		if got == typ {
			return payload
		}
	}
	t.Fatalf("never received %s", typ)
	return nil
}

func newTestService() *app.QuizService {
	gin.SetMode(gin.TestMode)
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	return app.NewQuizService(memory.NewSessionStore(), memory.NewParticipantStore(), quizzes, memory.NewHub())
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{
					ID:              "q1",
					Text:            "What is 2 + 2?",
					Options:         []domain.Option{{ID: "o1", Text: "3"}, {ID: "o2", Text: "4"}, {ID: "o3", Text: "5"}},
					CorrectOptionID: "o2",
				},
				{
					ID:              "q2",
					Text:            "What is 3 + 3?",
					Options:         []domain.Option{{ID: "o1", Text: "6"}, {ID: "o2", Text: "7"}},
					CorrectOptionID: "o1",
				},
			},
		},
		"empty": {ID: "empty"},
	}
}
