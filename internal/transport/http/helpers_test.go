package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"chainiq-service/internal/app"
	"chainiq-service/internal/domain"
	"chainiq-service/internal/infra/memory"
	"chainiq-service/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

type testServer struct {
	*httptest.Server
	store    *memory.Store
	attempts *app.AttemptService
	play     *app.PlayService
}

func newTestServer(t *testing.T, questionTimeout time.Duration) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	store := memory.NewStore(sampleQuizzes())
	quizRepo := memory.NewQuizRepository(store, time.Minute)

	quizzes := app.NewQuizService(log, quizRepo, quizRepo)
	attempts := app.NewAttemptService(log, quizRepo, store, app.TimeDurations)
	play := app.NewPlayService(log, app.NewEngine(), quizRepo, memory.NewSessionStore(), attempts)

	router := NewRouter(RouterConfig{
		Log:            log,
		QuizHandler:    NewQuizHandler(log, quizzes),
		AttemptHandler: NewAttemptHandler(log, attempts),
		FrameHandler:   NewFrameHandler(log, play, "https://chainiq.test", ""),
		WSHandler:      NewWSHandler(log, play, attempts, questionTimeout),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, attempts: attempts, play: play}
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:        "quiz-1",
			Title:     "Arithmetic",
			CreatedAt: time.Date(2024, 11, 22, 0, 0, 0, 0, time.UTC),
			Questions: []domain.Question{
				{ID: "q1", Question: "What is 2 + 2?", Options: []string{"3", "4", "5", "6"}, CorrectAnswer: "4"},
				{ID: "q2", Question: "What is 3 * 3?", Options: []string{"6", "8", "9", "12"}, CorrectAnswer: "9"},
				{ID: "q3", Question: "What is 10 - 7?", Options: []string{"1", "2", "3", "4"}, CorrectAnswer: "3"},
			},
		},
	}
}
