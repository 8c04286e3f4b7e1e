package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"chainiq-service/internal/domain"
	"chainiq-service/internal/metrics"
	"chainiq-service/internal/pkg/logger"
	"chainiq-service/internal/pkg/retry"
	"github.com/google/uuid"
)

const (
	// MaxQuestionCount bounds generated quizzes.
	MaxQuestionCount = 20
	// MaxImageBytes bounds the reward image uploaded with a generated quiz.
	MaxImageBytes = 5 * 1024 * 1024
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizStore persists quiz definitions.
type QuizStore interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
}

// GenerateRequest describes the questions to ask the LLM for.
type GenerateRequest struct {
	Topic      string
	Difficulty string
	Count      int
}

// QuestionGenerator produces questions from an LLM.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, req GenerateRequest) ([]domain.Question, error)
}

// ImagePinner uploads the reward image to content-addressed storage and returns its CID.
type ImagePinner interface {
	Pin(ctx context.Context, filename string, r io.Reader) (string, error)
}

// RewardContract submits quiz registrations to the on-chain rewards contract.
type RewardContract interface {
	CreateQuiz(ctx context.Context, quizID, title, nftMetadata string) (txHash string, err error)
}

// CreateQuizInput is the multipart payload of a quiz generation request.
type CreateQuizInput struct {
	Topic         string
	Difficulty    string
	QuestionCount int
	ImageName     string
	ImageSize     int64
	Image         io.Reader
}

// QuizService contains the quiz authoring and lookup use cases.
type QuizService struct {
	log       *logger.Logger
	quizzes   QuizRepository
	store     QuizStore
	generator QuestionGenerator
	pinner    ImagePinner
	contract  RewardContract
	retry     retry.Policy
	now       func() time.Time
}

// QuizServiceOption configures optional collaborators.
type QuizServiceOption func(*QuizService)

// WithGeneration wires the external collaborators used by CreateQuiz.
func WithGeneration(generator QuestionGenerator, pinner ImagePinner, contract RewardContract) QuizServiceOption {
	return func(s *QuizService) {
		s.generator = generator
		s.pinner = pinner
		s.contract = contract
	}
}

// WithRetryPolicy overrides the chain submission retry policy.
func WithRetryPolicy(p retry.Policy) QuizServiceOption {
	return func(s *QuizService) { s.retry = p }
}

// WithClock allows deterministic timestamps in tests.
func WithClock(now func() time.Time) QuizServiceOption {
	return func(s *QuizService) { s.now = now }
}

func NewQuizService(log *logger.Logger, quizzes QuizRepository, store QuizStore, opts ...QuizServiceOption) *QuizService {
	s := &QuizService{
		log:     log.With("service", "QuizService"),
		quizzes: quizzes,
		store:   store,
		retry:   retry.DefaultPolicy(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetQuiz returns a quiz by id.
func (s *QuizService) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if strings.TrimSpace(quizID) == "" {
		return domain.Quiz{}, domain.Validation("missing quiz id")
	}
	return s.quizzes.GetQuiz(ctx, quizID)
}

// ListQuizzes returns every stored quiz, newest first.
func (s *QuizService) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	return s.store.ListQuizzes(ctx)
}

// PublishQuiz stores an already-authored quiz.
func (s *QuizService) PublishQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := quiz.Validate(); err != nil {
		return err
	}
	if quiz.CreatedAt.IsZero() {
		quiz.CreatedAt = s.now().UTC()
	}
	if err := s.store.SaveQuiz(ctx, quiz); err != nil {
		return err
	}
	s.log.Info("quiz published", "quizId", quiz.ID, "questions", len(quiz.Questions))
	return nil
}

// CreateQuiz generates questions, pins the reward image, registers the quiz on-chain
// and persists it. The chain call is retried on timeouts only.
func (s *QuizService) CreateQuiz(ctx context.Context, in CreateQuizInput) (domain.Quiz, error) {
	if err := validateCreateInput(in); err != nil {
		return domain.Quiz{}, err
	}
	if s.generator == nil || s.pinner == nil || s.contract == nil {
		return domain.Quiz{}, domain.ErrNotConfigured
	}
	log := s.log.With("topic", in.Topic, "difficulty", in.Difficulty, "count", in.QuestionCount)

	questions, err := s.generator.GenerateQuestions(ctx, GenerateRequest{
		Topic:      in.Topic,
		Difficulty: in.Difficulty,
		Count:      in.QuestionCount,
	})
	if err != nil {
		return domain.Quiz{}, domain.Upstream("failed to generate questions", err)
	}
	if len(questions) != in.QuestionCount {
		return domain.Quiz{}, domain.Upstream("generated questions do not match requested count",
			fmt.Errorf("got %d, want %d", len(questions), in.QuestionCount))
	}
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			return domain.Quiz{}, domain.Upstream(fmt.Sprintf("invalid question format at index %d", i), err)
		}
	}

	cid, err := s.pinner.Pin(ctx, in.ImageName, in.Image)
	if err != nil {
		return domain.Quiz{}, domain.Upstream("failed to upload image", err)
	}

	quiz := domain.Quiz{
		ID:            "quiz-" + uuid.NewString(),
		Title:         fmt.Sprintf("%s - %s", in.Topic, capitalize(in.Difficulty)),
		Description:   fmt.Sprintf("A %s quiz about %s", in.Difficulty, in.Topic),
		Difficulty:    in.Difficulty,
		EstimatedTime: in.QuestionCount * 2,
		RewardType:    "NFT",
		RewardAmount:  1,
		NFTMetadata:   "ipfs://" + cid,
		CreatedAt:     s.now().UTC(),
		Questions:     questions,
	}
	log = log.With("quizId", quiz.ID)

	policy := s.retry
	policy.OnRetry = func(attempt int, err error) {
		metrics.ChainSubmissions.WithLabelValues("createQuiz", "retry").Inc()
		log.Warn("createQuiz timed out, retrying", "attempt", attempt, "max_attempts", policy.MaxAttempts, "backoff", policy.Backoff.String(), "error", err)
	}
	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		txHash, err := s.contract.CreateQuiz(ctx, quiz.ID, quiz.Title, quiz.NFTMetadata)
		if err != nil {
			return err
		}
		quiz.TransactionHash = txHash
		return nil
	})
	if err != nil {
		metrics.ChainSubmissions.WithLabelValues("createQuiz", "failure").Inc()
		log.Error("createQuiz failed", "error", err)
		return domain.Quiz{}, domain.Upstream("failed to interact with reward contract", err)
	}
	metrics.ChainSubmissions.WithLabelValues("createQuiz", "success").Inc()

	if err := s.store.SaveQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	log.Info("quiz created", "txHash", quiz.TransactionHash, "nftMetadata", quiz.NFTMetadata)
	return quiz, nil
}

func validateCreateInput(in CreateQuizInput) error {
	if strings.TrimSpace(in.Topic) == "" {
		return domain.Validation("topic is required")
	}
	if !domain.ValidDifficulty(in.Difficulty) {
		return domain.Validation("difficulty must be beginner, intermediate or advanced")
	}
	if in.QuestionCount < 1 || in.QuestionCount > MaxQuestionCount {
		return domain.Validation(fmt.Sprintf("questionCount must be between 1 and %d", MaxQuestionCount))
	}
	if in.Image == nil {
		return domain.Validation("image is required")
	}
	if in.ImageSize > MaxImageBytes {
		return domain.Validation("image size must be less than 5MB")
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
