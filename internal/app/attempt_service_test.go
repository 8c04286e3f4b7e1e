package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"chainiq-service/internal/domain"
	"chainiq-service/internal/infra/memory"
	"chainiq-service/internal/pkg/logger"
)

func newAttemptService(t *testing.T) *AttemptService {
	t.Helper()
	quiz := threeQuestionQuiz()
	store := memory.NewStore(map[string]domain.Quiz{quiz.ID: quiz})
	s := NewAttemptService(logger.NewNop(), memory.NewQuizRepository(store, time.Minute), store, TimeDurations)
	s.now = tickingClock()
	return s
}

func TestRecordValidatesInput(t *testing.T) {
	s := newAttemptService(t)
	ctx := context.Background()

	cases := []RecordAttemptInput{
		{QuizID: "", Address: "0xabc", Score: 1},
		{QuizID: "quiz-1", Address: " ", Score: 1},
		{QuizID: "quiz-1", Address: "0xabc", Score: -1},
		{QuizID: "quiz-1", Address: "0xabc", Score: 1, TimeTaken: -3},
		{QuizID: "quiz-1", Address: "0xabc", Score: 4},
	}
	for _, in := range cases {
		if _, err := s.Record(ctx, in); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", in, err)
		}
	}
	if _, err := s.Record(ctx, RecordAttemptInput{QuizID: "nope", Address: "0xabc"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordForbidsAttemptsAfterPerfect(t *testing.T) {
	s := newAttemptService(t)
	ctx := context.Background()

	if _, err := s.Record(ctx, RecordAttemptInput{QuizID: "quiz-1", Address: "0xabc", Score: 1, TimeTaken: 30}); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	saved, err := s.Record(ctx, RecordAttemptInput{QuizID: "quiz-1", Address: "0xabc", Score: 3, TimeTaken: 20})
	if err != nil {
		t.Fatalf("perfect attempt: %v", err)
	}
	if saved.CompletedAt.Nanosecond()%1000 != 0 {
		t.Fatalf("completedAt should be truncated to microseconds: %v", saved.CompletedAt)
	}
	if _, err := s.Record(ctx, RecordAttemptInput{QuizID: "quiz-1", Address: "0xabc", Score: 3, TimeTaken: 5}); !errors.Is(err, domain.ErrRetakeForbidden) {
		t.Fatalf("expected retake forbidden, got %v", err)
	}

	history, err := s.History(ctx, "0xabc", "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history.AllAttempts) != 2 || history.Attempt == nil || history.Attempt.Score != 3 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestHistoryForUnknownPlayerIsEmpty(t *testing.T) {
	s := newAttemptService(t)
	history, err := s.History(context.Background(), "0xghost", "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.Attempt != nil || history.AllAttempts == nil || len(history.AllAttempts) != 0 {
		t.Fatalf("expected empty history, got %+v", history)
	}
	if _, err := s.History(context.Background(), "", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLeaderboardRequiresKnownQuiz(t *testing.T) {
	s := newAttemptService(t)
	if _, err := s.Leaderboard(context.Background(), "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
	lb, err := s.Leaderboard(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 0 || lb.QuizID != "quiz-1" {
		t.Fatalf("expected empty leaderboard, got %+v", lb)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	s := newAttemptService(t)
	ctx := context.Background()

	updates, cancel, err := s.Subscribe(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	initial := <-updates
	if len(initial.Entries) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", initial)
	}

	if _, err := s.Record(ctx, RecordAttemptInput{QuizID: "quiz-1", Address: "0x1234567890abcdef", Score: 3, TimeTaken: 12}); err != nil {
		t.Fatalf("record: %v", err)
	}
	select {
	case lb := <-updates:
		if len(lb.Entries) != 1 || lb.Entries[0].Address != "0x1234...cdef" {
			t.Fatalf("unexpected update: %+v", lb)
		}
	case <-time.After(time.Second):
		t.Fatalf("no leaderboard update received")
	}
}

type recordingNotifier struct {
	quizIDs []string
}

func (n *recordingNotifier) Notify(_ context.Context, quizID string) error {
	n.quizIDs = append(n.quizIDs, quizID)
	return nil
}

func TestNotifierReplacesLocalRefresh(t *testing.T) {
	s := newAttemptService(t)
	n := &recordingNotifier{}
	s.UseNotifier(n)

	if _, err := s.Record(context.Background(), RecordAttemptInput{QuizID: "quiz-1", Address: "0xabc", Score: 2, TimeTaken: 9}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(n.quizIDs) != 1 || n.quizIDs[0] != "quiz-1" {
		t.Fatalf("expected one notification, got %v", n.quizIDs)
	}
}
