package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"chainiq-service/internal/app"
	"chainiq-service/internal/domain"
	"chainiq-service/internal/pkg/logger"
	"github.com/gorilla/websocket"
)

// DefaultQuestionTimeout is how long a live player has to answer before the
// question is submitted as a timeout.
const DefaultQuestionTimeout = 10 * time.Second

type WSHandler struct {
	log             *logger.Logger
	play            *app.PlayService
	attempts        *app.AttemptService
	questionTimeout time.Duration
	upgrader        websocket.Upgrader
}

func NewWSHandler(log *logger.Logger, play *app.PlayService, attempts *app.AttemptService, questionTimeout time.Duration) *WSHandler {
	if questionTimeout <= 0 {
		questionTimeout = DefaultQuestionTimeout
	}
	return &WSHandler{
		log:             log.With("handler", "WSHandler"),
		play:            play,
		attempts:        attempts,
		questionTimeout: questionTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Index *int `json:"index"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// ServePlay runs one player through a quiz over a websocket. Each question is
// timed; an unanswered question is submitted as a timeout.
//
// Client messages: {"type":"answer","payload":{"index":n}} and {"type":"retake"}.
// Server messages: question, answerResult, complete, error.
func (h *WSHandler) ServePlay(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	address := r.URL.Query().Get("address")
	if quizID == "" || address == "" {
		http.Error(w, "missing quizId or address", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	log := h.log.With("quizId", quizID, "address", address)

	progress, err := h.play.Begin(ctx, quizID, address)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	send := make(chan outboundMessage, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write error", "error", err)
				// keep draining so the play loop never blocks on send
				for range send {
				}
				return
			}
		}
	}()

	inbound := make(chan inboundMessage)
	readerDone := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case inbound <- msg:
			case <-stop:
				return
			}
		}
	}()

	timer := time.NewTimer(h.questionTimeout)
	defer timer.Stop()

	// present sends the current question (or completion) and arms the timer.
	present := func(p app.Progress) {
		if p.Complete {
			timer.Stop()
			send <- outboundMessage{Type: "complete", Payload: p}
			return
		}
		timer.Reset(h.questionTimeout)
		send <- outboundMessage{Type: "question", Payload: p}
	}
	submit := func(answer app.Answer) {
		outcome, err := h.play.Answer(ctx, quizID, address, answer)
		if err != nil {
			send <- errorMessage(err)
			if errors.Is(err, domain.ErrStateConflict) || errors.Is(err, domain.ErrProgressionComplete) || errors.Is(err, domain.ErrRetakeForbidden) {
				if current, cerr := h.play.Current(ctx, quizID, address); cerr == nil {
					present(current)
				}
			}
			return
		}
		send <- outboundMessage{Type: "answerResult", Payload: outcome}
		present(outcome.Progress)
	}

	present(progress)

loop:
	for {
		select {
		case <-readerDone:
			break loop
		case <-timer.C:
			submit(app.Timeout())
		case msg := <-inbound:
			switch msg.Type {
			case "answer":
				var payload answerPayload
				if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Index == nil {
					send <- errorMessage(domain.Validation("invalid answer payload"))
					continue
				}
				submit(app.Choice(*payload.Index))
			case "retake":
				p, err := h.play.Retake(ctx, quizID, address)
				if err != nil {
					send <- errorMessage(err)
					continue
				}
				present(p)
			default:
				send <- errorMessage(domain.Validation("unsupported message type"))
			}
		}
	}

	close(stop)
	close(send)
	<-writerDone
}

// ServeLeaderboard streams the ranking for a quiz, pushing a fresh snapshot
// whenever an attempt is recorded.
func (h *WSHandler) ServeLeaderboard(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	updates, cancel, err := h.attempts.Subscribe(r.Context(), quizID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readerDone:
			return
		case lb, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "leaderboard", Payload: lb}); err != nil {
				return
			}
		}
	}
}
