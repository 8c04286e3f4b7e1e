package app

import (
	"context"
	"errors"
	"strings"

	"chainiq-service/internal/domain"
	"chainiq-service/internal/metrics"
	"chainiq-service/internal/pkg/logger"
)

// SessionRepository stores progression state outside the process (in-memory, Redis, etc).
// Save is a compare-and-swap on Version: the stored version must equal state.Version
// (zero meaning "absent") or domain.ErrStateConflict is returned.
type SessionRepository interface {
	Load(ctx context.Context, quizID, playerID string) (domain.ProgressionState, bool, error)
	Save(ctx context.Context, state domain.ProgressionState) (domain.ProgressionState, error)
	Delete(ctx context.Context, quizID, playerID string) error
}

// Progress is a player's position in a quiz as shown to clients.
type Progress struct {
	State          domain.ProgressionState `json:"state"`
	Title          string                  `json:"title"`
	TotalQuestions int                     `json:"totalQuestions"`
	Question       *domain.QuestionPrompt  `json:"question,omitempty"`
	Complete       bool                    `json:"complete"`
	Perfect        bool                    `json:"perfect"`
}

// AnswerOutcome is the result of submitting one answer.
type AnswerOutcome struct {
	Correct  bool            `json:"correct"`
	TimedOut bool            `json:"timedOut"`
	Progress Progress        `json:"progress"`
	Attempt  *domain.Attempt `json:"attempt,omitempty"`
}

// PlayService drives players through quizzes on top of an external session store.
// Updates are serialized per (player, quiz) in-process and guarded by the store's
// version check across processes.
type PlayService struct {
	log      *logger.Logger
	engine   *Engine
	quizzes  QuizRepository
	sessions SessionRepository
	attempts *AttemptService
	locks    *keyedMutex
}

func NewPlayService(log *logger.Logger, engine *Engine, quizzes QuizRepository, sessions SessionRepository, attempts *AttemptService) *PlayService {
	return &PlayService{
		log:      log.With("service", "PlayService"),
		engine:   engine,
		quizzes:  quizzes,
		sessions: sessions,
		attempts: attempts,
		// shared so client-reported attempts and live play serialize on the same key
		locks: attempts.locks,
	}
}

// Current returns the player's progression without creating one.
func (s *PlayService) Current(ctx context.Context, quizID, playerID string) (Progress, error) {
	if err := validateIDs(quizID, playerID); err != nil {
		return Progress{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return Progress{}, err
	}
	state, ok, err := s.sessions.Load(ctx, quizID, playerID)
	if err != nil {
		return Progress{}, err
	}
	if !ok {
		return Progress{}, domain.ErrSessionNotFound
	}
	return progressOf(quiz, state), nil
}

// Begin returns the player's progression, creating it lazily on first interaction.
// A player who already holds a perfect attempt cannot start again.
func (s *PlayService) Begin(ctx context.Context, quizID, playerID string) (Progress, error) {
	if err := validateIDs(quizID, playerID); err != nil {
		return Progress{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return Progress{}, err
	}

	unlock := s.locks.Lock(domain.ProgressionKey(quizID, playerID))
	defer unlock()

	state, ok, err := s.sessions.Load(ctx, quizID, playerID)
	if err != nil {
		return Progress{}, err
	}
	if ok {
		return progressOf(quiz, state), nil
	}
	return s.startLocked(ctx, quiz, playerID, 0)
}

// Retake restarts a completed progression at question 0 when the policy allows it.
func (s *PlayService) Retake(ctx context.Context, quizID, playerID string) (Progress, error) {
	if err := validateIDs(quizID, playerID); err != nil {
		return Progress{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return Progress{}, err
	}

	unlock := s.locks.Lock(domain.ProgressionKey(quizID, playerID))
	defer unlock()

	state, ok, err := s.sessions.Load(ctx, quizID, playerID)
	if err != nil {
		return Progress{}, err
	}
	var version int64
	if ok {
		if !state.Complete() {
			return Progress{}, domain.ErrProgressionInProgress
		}
		version = state.Version
	}
	return s.startLocked(ctx, quiz, playerID, version)
}

func (s *PlayService) startLocked(ctx context.Context, quiz domain.Quiz, playerID string, version int64) (Progress, error) {
	if err := s.attempts.EnsureRetakeAllowed(ctx, quiz, playerID); err != nil {
		return Progress{}, err
	}
	state := s.engine.Start(quiz.ID, playerID)
	state.Version = version
	saved, err := s.sessions.Save(ctx, state)
	if err != nil {
		return Progress{}, s.conflict(err)
	}
	s.log.Debug("progression started", "quizId", quiz.ID, "playerId", playerID)
	return progressOf(quiz, saved), nil
}

// Answer submits an answer (or timeout) for the player's current question. Completing
// the last question persists exactly one attempt.
func (s *PlayService) Answer(ctx context.Context, quizID, playerID string, answer Answer) (AnswerOutcome, error) {
	if err := validateIDs(quizID, playerID); err != nil {
		return AnswerOutcome{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return AnswerOutcome{}, err
	}

	unlock := s.locks.Lock(domain.ProgressionKey(quizID, playerID))
	defer unlock()

	state, ok, err := s.sessions.Load(ctx, quizID, playerID)
	if err != nil {
		return AnswerOutcome{}, err
	}
	if !ok {
		return AnswerOutcome{}, domain.ErrSessionNotFound
	}
	before := cloneState(state)

	correct, attempt, err := s.engine.Submit(&state, quiz, answer)
	if err != nil {
		return AnswerOutcome{}, err
	}

	if attempt != nil {
		// a perfect attempt may have been recorded since this run started
		if err := s.attempts.EnsureRetakeAllowed(ctx, quiz, playerID); err != nil {
			if _, serr := s.sessions.Save(ctx, state); serr != nil {
				return AnswerOutcome{}, s.conflict(serr)
			}
			return AnswerOutcome{}, err
		}
	}

	// The CAS save claims the transition; only the winner persists the attempt.
	saved, err := s.sessions.Save(ctx, state)
	if err != nil {
		return AnswerOutcome{}, s.conflict(err)
	}
	if attempt != nil {
		if err := s.attempts.save(ctx, *attempt, len(quiz.Questions), "play"); err != nil {
			before.Version = saved.Version
			if _, rerr := s.sessions.Save(ctx, before); rerr != nil {
				s.log.Error("failed to roll back progression", "quizId", quizID, "playerId", playerID, "error", rerr)
			}
			return AnswerOutcome{}, err
		}
	}

	return AnswerOutcome{
		Correct:  correct,
		TimedOut: answer.TimedOut,
		Progress: progressOf(quiz, saved),
		Attempt:  attempt,
	}, nil
}

// Abandon drops a player's progression.
func (s *PlayService) Abandon(ctx context.Context, quizID, playerID string) error {
	unlock := s.locks.Lock(domain.ProgressionKey(quizID, playerID))
	defer unlock()
	return s.sessions.Delete(ctx, quizID, playerID)
}

func (s *PlayService) conflict(err error) error {
	if errors.Is(err, domain.ErrStateConflict) {
		metrics.ProgressionConflicts.Inc()
	}
	return err
}

func progressOf(quiz domain.Quiz, state domain.ProgressionState) Progress {
	p := Progress{
		State:          state,
		Title:          quiz.Title,
		TotalQuestions: len(quiz.Questions),
		Complete:       state.Complete(),
	}
	if p.Complete {
		p.Perfect = state.Score == len(quiz.Questions)
		return p
	}
	if state.CurrentQuestionIndex < len(quiz.Questions) {
		prompt := quiz.PromptAt(state.CurrentQuestionIndex)
		p.Question = &prompt
	}
	return p
}

func cloneState(s domain.ProgressionState) domain.ProgressionState {
	s.AnswersGiven = append([]string(nil), s.AnswersGiven...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

func validateIDs(quizID, playerID string) error {
	if strings.TrimSpace(quizID) == "" || strings.TrimSpace(playerID) == "" {
		return domain.Validation("missing quizId or player id")
	}
	return nil
}
