package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/logger"
	"livequiz-service/internal/metrics"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewWSHandler(service *app.QuizService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.With("component", "ws"),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID     string `json:"questionId"`
	OptionID       string `json:"optionId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// statePayload is everything a (re)connecting client needs to render the session.
type statePayload struct {
	Session     domain.QuizSession      `json:"session"`
	Leaderboard domain.Leaderboard      `json:"leaderboard"`
	Current     *domain.CurrentQuestion `json:"current,omitempty"`
}

// ServeWS upgrades HTTP requests to websockets and joins the connection to a session channel.
// Without participantId the connection is a host view and may send start/finish.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	participantID := r.URL.Query().Get("participantId")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	if _, err := h.service.GetSession(r.Context(), code); err != nil {
		_, status := classify(err)
		http.Error(w, err.Error(), status)
		return
	}
	if participantID != "" {
		if _, err := h.service.GetCurrentQuestionFor(r.Context(), code, participantID); err != nil {
			_, status := classify(err)
			http.Error(w, err.Error(), status)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	ctx := r.Context()
	// Subscribe before the first snapshot so nothing published in between is lost.
	events, cancel, err := h.service.Subscribe(ctx, code)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: toErrorPayload(err)})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 64)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					h.log.Debug("ws write error", "code", code, "error", err)
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	enqueue := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-closeSignals:
			return false
		case <-writerDone:
			return false
		}
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !enqueue(outboundMessage[any]{Type: string(ev.Type()), Payload: ev}) {
					return
				}
				if participantID != "" && affects(ev, participantID) {
					if !enqueue(h.current(ctx, code, participantID)) {
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	enqueue(h.state(ctx, code, participantID))

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		for _, msg := range h.handle(ctx, code, participantID, inbound) {
			enqueue(msg)
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// affects reports whether ev changes what participantID should see.
func affects(ev domain.Event, participantID string) bool {
	switch e := ev.(type) {
	case domain.GameStarted, domain.GameFinished:
		return true
	case domain.AnswerSubmitted:
		return e.ParticipantID == participantID
	default:
		return false
	}
}

func (h *WSHandler) handle(ctx context.Context, code, participantID string, inbound inboundMessage) []outboundMessage[any] {
	switch inbound.Type {
	case "answer":
		if participantID == "" {
			return []outboundMessage[any]{wsBadRequest("answers require participantId")}
		}
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return []outboundMessage[any]{wsBadRequest("invalid answer payload")}
		}
		result, err := h.service.SubmitAnswer(ctx, code, domain.AnswerEvent{
			ParticipantID:    participantID,
			QuestionID:       payload.QuestionID,
			SelectedOptionID: payload.OptionID,
			ResponseTimeMs:   payload.ResponseTimeMs,
		})
		if err != nil {
			// The client is expected to resync, so send the fresh position along with the error.
			return []outboundMessage[any]{wsError(err), h.current(ctx, code, participantID)}
		}
		return []outboundMessage[any]{{Type: "answerResult", Payload: result}}
	case "sync":
		return []outboundMessage[any]{h.state(ctx, code, participantID)}
	case "ranking":
		board, err := h.service.Leaderboard(ctx, code)
		if err != nil {
			return []outboundMessage[any]{wsError(err)}
		}
		return []outboundMessage[any]{{Type: "leaderboard", Payload: board}}
	case "start", "finish":
		if participantID != "" {
			return []outboundMessage[any]{wsBadRequest("only the host may control the game")}
		}
		var err error
		if inbound.Type == "start" {
			err = h.service.StartGame(ctx, code)
		} else {
			err = h.service.FinishGame(ctx, code)
		}
		if err != nil {
			return []outboundMessage[any]{wsError(err)}
		}
		return nil
	default:
		return []outboundMessage[any]{wsBadRequest("unsupported message type")}
	}
}

func (h *WSHandler) state(ctx context.Context, code, participantID string) outboundMessage[any] {
	session, err := h.service.GetSession(ctx, code)
	if err != nil {
		return wsError(err)
	}
	board, err := h.service.Leaderboard(ctx, code)
	if err != nil {
		return wsError(err)
	}
	state := statePayload{Session: session, Leaderboard: board}
	if participantID != "" {
		current, err := h.service.GetCurrentQuestionFor(ctx, code, participantID)
		if err != nil {
			return wsError(err)
		}
		state.Current = &current
	}
	return outboundMessage[any]{Type: "state", Payload: state}
}

func (h *WSHandler) current(ctx context.Context, code, participantID string) outboundMessage[any] {
	current, err := h.service.GetCurrentQuestionFor(ctx, code, participantID)
	if err != nil {
		return wsError(err)
	}
	return outboundMessage[any]{Type: "current", Payload: current}
}

func wsError(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: toErrorPayload(err)}
}

func wsBadRequest(message string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "BadRequest", Message: message}}
}
