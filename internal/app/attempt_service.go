package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"chainiq-service/internal/domain"
	"chainiq-service/internal/metrics"
	"chainiq-service/internal/pkg/logger"
)

// AttemptStore is the append-only record of completed play-throughs.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, attempt domain.Attempt) error
	QuizAttempts(ctx context.Context, quizID string) ([]domain.Attempt, error)
	// PlayerAttempts lists a player's attempts oldest first; an empty quizID means all quizzes.
	PlayerAttempts(ctx context.Context, address, quizID string) ([]domain.Attempt, error)
}

// LeaderboardNotifier announces that a quiz's attempts changed.
type LeaderboardNotifier interface {
	Notify(ctx context.Context, quizID string) error
}

// RecordAttemptInput is a client-reported completion.
type RecordAttemptInput struct {
	QuizID    string
	Address   string
	Score     int
	TimeTaken float64
}

// PlayerHistory is a player's latest attempt plus their full history.
type PlayerHistory struct {
	Attempt     *domain.Attempt  `json:"attempt"`
	AllAttempts []domain.Attempt `json:"allAttempts"`
}

// AttemptService records attempts and derives leaderboards from them.
type AttemptService struct {
	log      *logger.Logger
	quizzes  QuizRepository
	attempts AttemptStore
	mode     TimeMode
	hub      *leaderboardHub
	locks    *keyedMutex
	notifier LeaderboardNotifier
	now      func() time.Time
}

func NewAttemptService(log *logger.Logger, quizzes QuizRepository, attempts AttemptStore, mode TimeMode) *AttemptService {
	return &AttemptService{
		log:      log.With("service", "AttemptService"),
		quizzes:  quizzes,
		attempts: attempts,
		mode:     mode,
		hub:      newLeaderboardHub(),
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// UseNotifier routes change notifications through n (e.g. a cross-instance bus)
// instead of refreshing local subscribers directly.
func (s *AttemptService) UseNotifier(n LeaderboardNotifier) {
	s.notifier = n
}

// Record persists a client-reported attempt, enforcing the retake policy.
func (s *AttemptService) Record(ctx context.Context, in RecordAttemptInput) (domain.Attempt, error) {
	if strings.TrimSpace(in.QuizID) == "" || strings.TrimSpace(in.Address) == "" {
		return domain.Attempt{}, domain.Validation("invalid quiz attempt data: quizId and address are required")
	}
	if in.Score < 0 || in.TimeTaken < 0 {
		return domain.Attempt{}, domain.Validation("invalid quiz attempt data: score and timeTaken must be non-negative")
	}
	quiz, err := s.quizzes.GetQuiz(ctx, in.QuizID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if in.Score > len(quiz.Questions) {
		return domain.Attempt{}, domain.Validation("invalid quiz attempt data: score exceeds question count")
	}

	unlock := s.locks.Lock(domain.ProgressionKey(in.QuizID, in.Address))
	defer unlock()
	if err := s.EnsureRetakeAllowed(ctx, quiz, in.Address); err != nil {
		return domain.Attempt{}, err
	}

	attempt := domain.Attempt{
		QuizID:           in.QuizID,
		PlayerAddress:    in.Address,
		Score:            in.Score,
		CompletedAt:      s.now().UTC().Truncate(time.Microsecond),
		TimeTakenSeconds: in.TimeTaken,
	}
	if err := s.save(ctx, attempt, len(quiz.Questions), "api"); err != nil {
		return domain.Attempt{}, err
	}
	return attempt, nil
}

// save stores a finished attempt and notifies leaderboard subscribers.
func (s *AttemptService) save(ctx context.Context, attempt domain.Attempt, totalQuestions int, source string) error {
	if err := s.attempts.SaveAttempt(ctx, attempt); err != nil {
		return err
	}
	perfect := attempt.IsPerfect(totalQuestions)
	metrics.AttemptsRecorded.WithLabelValues(source, strconv.FormatBool(perfect)).Inc()
	s.log.Info("quiz attempt saved",
		"quizId", attempt.QuizID,
		"address", attempt.PlayerAddress,
		"score", attempt.Score,
		"timeTaken", attempt.TimeTakenSeconds,
		"source", source,
	)
	s.announce(ctx, attempt.QuizID)
	return nil
}

func (s *AttemptService) announce(ctx context.Context, quizID string) {
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, quizID); err != nil {
			s.log.Warn("leaderboard notify failed", "quizId", quizID, "error", err)
		}
		return
	}
	s.Refresh(ctx, quizID)
}

// EnsureRetakeAllowed rejects players who already reached a perfect score on quiz.
func (s *AttemptService) EnsureRetakeAllowed(ctx context.Context, quiz domain.Quiz, address string) error {
	history, err := s.attempts.PlayerAttempts(ctx, address, quiz.ID)
	if err != nil {
		return err
	}
	for _, a := range history {
		if a.IsPerfect(len(quiz.Questions)) {
			return domain.ErrRetakeForbidden
		}
	}
	return nil
}

// History returns a player's attempts, optionally restricted to one quiz.
func (s *AttemptService) History(ctx context.Context, address, quizID string) (PlayerHistory, error) {
	if strings.TrimSpace(address) == "" {
		return PlayerHistory{}, domain.Validation("missing address")
	}
	all, err := s.attempts.PlayerAttempts(ctx, address, quizID)
	if err != nil {
		return PlayerHistory{}, err
	}
	if all == nil {
		all = []domain.Attempt{}
	}
	history := PlayerHistory{AllAttempts: all}
	if len(all) > 0 {
		latest := all[len(all)-1]
		history.Attempt = &latest
	}
	return history, nil
}

// Leaderboard ranks every player of a quiz. It fails fast if the quiz is unknown.
func (s *AttemptService) Leaderboard(ctx context.Context, quizID string) (domain.Leaderboard, error) {
	if strings.TrimSpace(quizID) == "" {
		return domain.Leaderboard{}, domain.Validation("missing quizId")
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	attempts, err := s.attempts.QuizAttempts(ctx, quizID)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	start := time.Now()
	entries := ComputeLeaderboard(attempts, len(quiz.Questions), s.mode)
	metrics.LeaderboardDuration.Observe(time.Since(start).Seconds())

	return domain.Leaderboard{
		QuizID:    quizID,
		Entries:   entries,
		UpdatedAt: s.now().UTC(),
	}, nil
}

// Subscribe returns a channel that receives the current leaderboard and every update.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *AttemptService) Subscribe(ctx context.Context, quizID string) (<-chan domain.Leaderboard, func(), error) {
	initial, err := s.Leaderboard(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.subscribe(quizID, initial)
	return ch, cancel, nil
}

// Refresh recomputes the leaderboard for local subscribers, if any.
func (s *AttemptService) Refresh(ctx context.Context, quizID string) {
	if !s.hub.hasSubscribers(quizID) {
		return
	}
	lb, err := s.Leaderboard(ctx, quizID)
	if err != nil {
		s.log.Warn("leaderboard refresh failed", "quizId", quizID, "error", err)
		return
	}
	s.hub.publish(lb)
}
