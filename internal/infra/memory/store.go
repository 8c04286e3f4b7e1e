package memory

import (
	"context"
	"sort"
	"sync"

	"chainiq-service/internal/domain"
)

// Store keeps quizzes and attempts in process memory. It is used when no
// Postgres URL is configured and in tests.
type Store struct {
	mu       sync.RWMutex
	quizzes  map[string]domain.Quiz
	attempts []domain.Attempt
}

// NewStore returns a store seeded with quizzes.
func NewStore(seed map[string]domain.Quiz) *Store {
	quizzes := make(map[string]domain.Quiz, len(seed))
	for id, q := range seed {
		quizzes[id] = q
	}
	return &Store{quizzes: quizzes}
}

func (s *Store) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if quiz, ok := s.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (s *Store) SaveQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quiz.ID]; ok {
		return domain.ErrDuplicateQuiz
	}
	s.quizzes[quiz.ID] = quiz
	return nil
}

func (s *Store) ListQuizzes(_ context.Context) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveAttempt(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.QuizID == attempt.QuizID && a.PlayerAddress == attempt.PlayerAddress && a.CompletedAt.Equal(attempt.CompletedAt) {
			return domain.ErrDuplicateAttempt
		}
	}
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *Store) QuizAttempts(_ context.Context, quizID string) ([]domain.Attempt, error) {
	return s.filter(func(a domain.Attempt) bool { return a.QuizID == quizID }), nil
}

func (s *Store) PlayerAttempts(_ context.Context, address, quizID string) ([]domain.Attempt, error) {
	return s.filter(func(a domain.Attempt) bool {
		return a.PlayerAddress == address && (quizID == "" || a.QuizID == quizID)
	}), nil
}

func (s *Store) filter(keep func(domain.Attempt) bool) []domain.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Attempt, 0)
	for _, a := range s.attempts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(out[j].CompletedAt)
	})
	return out
}
