package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialWS(t *testing.T, srv *testServer, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) wsMessage {
	t.Helper()
	var msg wsMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s: %s", expect, msg.Type, msg.Payload)
	}
	return msg
}

func sendAnswer(t *testing.T, conn *websocket.Conn, index int) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": "answer", "payload": map[string]any{"index": index}}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
}

func TestWebSocketPlayFlowPersistsAttempt(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	conn := dialWS(t, srv, "/ws/play?quizId=quiz-1&address=0xplayer")

	readNext(conn, t, "question")

	// 2 correct, 1 wrong.
	for _, index := range []int{1, 2, 0} {
		sendAnswer(t, conn, index)
		readNext(conn, t, "answerResult")
		if index != 0 {
			readNext(conn, t, "question")
		}
	}
	done := readNext(conn, t, "complete")
	var progress struct {
		Complete bool `json:"complete"`
		State    struct {
			Score int `json:"score"`
		} `json:"state"`
	}
	if err := json.Unmarshal(done.Payload, &progress); err != nil {
		t.Fatalf("decode complete: %v", err)
	}
	if !progress.Complete || progress.State.Score != 2 {
		t.Fatalf("expected complete with score 2, got %s", done.Payload)
	}

	history, err := srv.attempts.History(context.Background(), "0xplayer", "quiz-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history.AllAttempts) != 1 || history.AllAttempts[0].Score != 2 {
		t.Fatalf("expected one persisted attempt with score 2, got %+v", history.AllAttempts)
	}

	lb, err := srv.attempts.Leaderboard(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 1 || lb.Entries[0].AttemptsUntilPerfect != 1 {
		t.Fatalf("unexpected leaderboard: %+v", lb.Entries)
	}
}

func TestWebSocketQuestionTimerSubmitsTimeout(t *testing.T) {
	srv := newTestServer(t, 30*time.Millisecond)
	conn := dialWS(t, srv, "/ws/play?quizId=quiz-1&address=0xslow")

	readNext(conn, t, "question")
	result := readNext(conn, t, "answerResult")
	var outcome struct {
		Correct  bool `json:"correct"`
		TimedOut bool `json:"timedOut"`
	}
	if err := json.Unmarshal(result.Payload, &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !outcome.TimedOut || outcome.Correct {
		t.Fatalf("expected timed out wrong answer, got %s", result.Payload)
	}

	// The remaining questions time out too and the attempt is recorded with score 0.
	for {
		msg := readNext(conn, t, "")
		if msg.Type == "complete" {
			break
		}
	}
	history, err := srv.attempts.History(context.Background(), "0xslow", "quiz-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history.AllAttempts) != 1 || history.AllAttempts[0].Score != 0 {
		t.Fatalf("expected one zero-score attempt, got %+v", history.AllAttempts)
	}
}

func TestWebSocketRejectsInvalidAnswer(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	conn := dialWS(t, srv, "/ws/play?quizId=quiz-1&address=0xbad")

	readNext(conn, t, "question")
	sendAnswer(t, conn, 9)
	readNext(conn, t, "error")

	if err := conn.WriteJSON(map[string]any{"type": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readNext(conn, t, "error")
}

func TestWebSocketPlayRequiresParams(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/play?quizId=quiz-1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestLeaderboardStreamPushesUpdates(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	conn := dialWS(t, srv, "/ws/leaderboard?quizId=quiz-1")

	initial := readNext(conn, t, "leaderboard")
	var lb struct {
		Entries []struct {
			Address string `json:"address"`
		} `json:"entries"`
	}
	_ = json.Unmarshal(initial.Payload, &lb)
	if len(lb.Entries) != 0 {
		t.Fatalf("expected empty initial leaderboard, got %s", initial.Payload)
	}

	resp, data := doJSON(t, http.MethodPost, srv.URL+"/quizAttempts", map[string]any{
		"quizId": "quiz-1", "address": "0xstream", "score": 3, "timeTaken": 9,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post attempt: %d %s", resp.StatusCode, data)
	}

	update := readNext(conn, t, "leaderboard")
	_ = json.Unmarshal(update.Payload, &lb)
	if len(lb.Entries) != 1 || lb.Entries[0].Address != "0xstream" {
		t.Fatalf("expected pushed entry for 0xstream, got %s", update.Payload)
	}
}
