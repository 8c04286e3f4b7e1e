package app

import (
	"time"

	"chainiq-service/internal/domain"
)

// Answer is a player's input for the current question: a chosen option index or a timeout.
type Answer struct {
	Index    int
	TimedOut bool
}

// Choice selects option i (0-based).
func Choice(i int) Answer {
	return Answer{Index: i}
}

// Timeout is submitted when the per-question timer fires without an answer.
func Timeout() Answer {
	return Answer{TimedOut: true}
}

// Engine drives a single player through a quiz's question sequence.
// It is pure: persistence and locking are the caller's concern.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return NewEngineWithClock(time.Now)
}

// NewEngineWithClock allows deterministic timestamps in tests.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Start creates a fresh progression at question 0.
func (e *Engine) Start(quizID, playerID string) domain.ProgressionState {
	return domain.ProgressionState{
		QuizID:       quizID,
		PlayerID:     playerID,
		AnswersGiven: []string{},
		StartedAt:    e.timestamp(),
	}
}

// Submit scores one answer and advances the progression. When the last question is
// answered the state is marked complete and the terminal attempt is returned.
func (e *Engine) Submit(state *domain.ProgressionState, quiz domain.Quiz, answer Answer) (bool, *domain.Attempt, error) {
	if state.Complete() || state.CurrentQuestionIndex >= len(quiz.Questions) {
		return false, nil, domain.ErrProgressionComplete
	}
	question := quiz.Questions[state.CurrentQuestionIndex]

	correct := false
	if !answer.TimedOut {
		if answer.Index < 0 || answer.Index >= domain.OptionsPerQuestion || answer.Index >= len(question.Options) {
			return false, nil, domain.ErrInvalidAnswer
		}
		selected := question.Options[answer.Index]
		correct = selected == question.CorrectAnswer
		if correct {
			state.Score++
		}
		state.AnswersGiven = append(state.AnswersGiven, selected)
	}
	// timeouts count as answered-wrong and are never retried
	state.CurrentQuestionIndex++

	if state.CurrentQuestionIndex < len(quiz.Questions) {
		return correct, nil, nil
	}

	completedAt := e.timestamp()
	state.CompletedAt = &completedAt
	elapsed := completedAt.Sub(state.StartedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return correct, &domain.Attempt{
		QuizID:           state.QuizID,
		PlayerAddress:    state.PlayerID,
		Score:            state.Score,
		CompletedAt:      completedAt,
		TimeTakenSeconds: elapsed,
	}, nil
}

// timestamp is truncated to microseconds so it round-trips through Postgres unchanged.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}
