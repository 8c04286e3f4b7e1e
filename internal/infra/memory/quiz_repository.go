package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"chainiq-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuizCatalog is the durable quiz store behind the cache.
type QuizCatalog interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
}

// listingKey is the singleflight key for ListQuizzes; quiz ids are never empty.
const listingKey = ""

// QuizRepository is a read-through, write-through cache over a QuizCatalog.
// Quizzes are immutable, so a published quiz is cached as soon as it is saved.
// The listing is cached whole and dropped on every save.
type QuizRepository struct {
	catalog QuizCatalog
	ttl     time.Duration
	clock   func() time.Time
	sf      singleflight.Group

	mu      sync.RWMutex
	quizzes map[string]entry[domain.Quiz]
	listing *entry[[]domain.Quiz]
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e entry[T]) fresh(now time.Time) bool {
	return e.expiresAt.After(now)
}

func NewQuizRepository(catalog QuizCatalog, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		catalog: catalog,
		ttl:     ttl,
		clock:   time.Now,
		quizzes: make(map[string]entry[domain.Quiz]),
	}
}

// GetQuiz serves from cache, loading at most once per quiz concurrently.
// Misses are not cached so a quiz published elsewhere shows up on the next read.
func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.cachedQuiz(quizID); ok {
		return quiz, nil
	}
	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		if quiz, ok := r.cachedQuiz(quizID); ok {
			return quiz, nil
		}
		quiz, err := r.catalog.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		r.storeQuiz(quiz)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// SaveQuiz writes to the catalog first; only a persisted quiz enters the cache.
func (r *QuizRepository) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := r.catalog.SaveQuiz(ctx, quiz); err != nil {
		return err
	}
	r.storeQuiz(quiz)
	r.mu.Lock()
	r.listing = nil
	r.mu.Unlock()
	return nil
}

// ListQuizzes returns the catalog listing, newest first. Callers get their own slice.
func (r *QuizRepository) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	if list, ok := r.cachedListing(); ok {
		return list, nil
	}
	result, err, _ := r.sf.Do(listingKey, func() (interface{}, error) {
		if list, ok := r.cachedListing(); ok {
			return list, nil
		}
		list, err := r.catalog.ListQuizzes(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.listing = &entry[[]domain.Quiz]{value: list, expiresAt: r.clock().Add(r.expiry(listingKey))}
		r.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Quiz(nil), result.([]domain.Quiz)...), nil
}

func (r *QuizRepository) cachedQuiz(quizID string) (domain.Quiz, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.quizzes[quizID]
	if !ok || !e.fresh(r.clock()) {
		return domain.Quiz{}, false
	}
	return e.value, true
}

func (r *QuizRepository) cachedListing() ([]domain.Quiz, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.listing == nil || !r.listing.fresh(r.clock()) {
		return nil, false
	}
	return append([]domain.Quiz(nil), r.listing.value...), true
}

func (r *QuizRepository) storeQuiz(quiz domain.Quiz) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quizzes[quiz.ID] = entry[domain.Quiz]{value: quiz, expiresAt: r.clock().Add(r.expiry(quiz.ID))}
}

// expiry adds up to 10% of ttl, derived from the key, so entries cached
// together do not expire together.
func (r *QuizRepository) expiry(key string) time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return r.ttl + time.Duration(h.Sum64()%uint64(r.ttl/10+1))
}
