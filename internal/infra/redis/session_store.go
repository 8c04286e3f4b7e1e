package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chainiq-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionStore keeps progression state in Redis so it survives restarts and is
// shared by every instance. Save is optimistic: it WATCHes the key and only
// writes when the stored version still matches.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *SessionStore) Load(ctx context.Context, quizID, playerID string) (domain.ProgressionState, bool, error) {
	raw, err := s.client.Get(ctx, s.key(quizID, playerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ProgressionState{}, false, nil
	}
	if err != nil {
		return domain.ProgressionState{}, false, err
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

func (s *SessionStore) Save(ctx context.Context, state domain.ProgressionState) (domain.ProgressionState, error) {
	key := s.key(state.QuizID, state.PlayerID)
	next := state
	next.Version = state.Version + 1
	raw, err := json.Marshal(next)
	if err != nil {
		return domain.ProgressionState{}, err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		stored, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var existing domain.ProgressionState
			if err := json.Unmarshal(stored, &existing); err != nil {
				return err
			}
			current = existing.Version
		}
		if current != state.Version {
			return domain.ErrStateConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ProgressionState{}, domain.ErrStateConflict
	}
	if err != nil {
		return domain.ProgressionState{}, err
	}
	return next, nil
}

func (s *SessionStore) Delete(ctx context.Context, quizID, playerID string) error {
	return s.client.Del(ctx, s.key(quizID, playerID)).Err()
}

// key is quiz:progress:<len(quizID)>:<quizID>:<playerID>.
func (s *SessionStore) key(quizID, playerID string) string {
	return "quiz:progress:" + domain.ProgressionKey(quizID, playerID)
}
