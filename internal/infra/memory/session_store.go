package memory

import (
	"context"
	"encoding/json"
	"sync"

	"chainiq-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
// State does not survive restarts; use the Redis store for multi-instance deployments.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string][]byte),
	}
}

func (s *SessionStore) Load(_ context.Context, quizID, playerID string) (domain.ProgressionState, bool, error) {
	s.mu.Lock()
	raw, ok := s.sessions[domain.ProgressionKey(quizID, playerID)]
	s.mu.Unlock()
	if !ok {
		return domain.ProgressionState{}, false, nil
	}
	var state domain.ProgressionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.ProgressionState{}, false, err
	}
	if err := state.CheckOwner(quizID, playerID); err != nil {
		return domain.ProgressionState{}, false, err
	}
	return state, true, nil
}

func (s *SessionStore) Save(_ context.Context, state domain.ProgressionState) (domain.ProgressionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := domain.ProgressionKey(state.QuizID, state.PlayerID)
	var current int64
	if raw, ok := s.sessions[k]; ok {
		var stored domain.ProgressionState
		if err := json.Unmarshal(raw, &stored); err != nil {
			return domain.ProgressionState{}, err
		}
		current = stored.Version
	}
	if current != state.Version {
		return domain.ProgressionState{}, domain.ErrStateConflict
	}

	state.Version++
	raw, err := json.Marshal(state)
	if err != nil {
		return domain.ProgressionState{}, err
	}
	s.sessions[k] = raw
	return state, nil
}

func (s *SessionStore) Delete(_ context.Context, quizID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, domain.ProgressionKey(quizID, playerID))
	return nil
}
