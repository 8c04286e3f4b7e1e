package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainiq-service/internal/app"
	"chainiq-service/internal/config"
	"chainiq-service/internal/domain"
	"chainiq-service/internal/infra/chain"
	"chainiq-service/internal/infra/llm"
	"chainiq-service/internal/infra/memory"
	"chainiq-service/internal/infra/pinning"
	pgstore "chainiq-service/internal/infra/postgres"
	infraredis "chainiq-service/internal/infra/redis"
	"chainiq-service/internal/pkg/logger"
	"chainiq-service/internal/pkg/retry"
	"chainiq-service/internal/pkg/tracing"
	transport "chainiq-service/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// quizBackend is satisfied by both the Postgres and in-memory stores.
type quizBackend interface {
	app.QuizStore
	app.AttemptStore
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	shutdownTracing, err := tracing.Init(cfg.Tracing.Enabled)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	var backend quizBackend
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		backend = pgstore.NewStore(pool)
		log.Info("using postgres store")
	} else {
		backend = memory.NewStore(sampleQuizzes())
		log.Warn("postgres url not configured, using in-memory store")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var quizRepo app.QuizRepository
	var quizStore app.QuizStore = backend
	var sessions app.SessionRepository
	if redisClient != nil {
		quizRepo = infraredis.NewQuizRepository(redisClient, backend, quizTTL, log)
		sessions = infraredis.NewSessionStore(redisClient, sessionTTL)
	} else {
		cache := memory.NewQuizRepository(backend, quizTTL)
		quizRepo, quizStore = cache, cache
		sessions = memory.NewSessionStore()
	}

	attempts := app.NewAttemptService(log, quizRepo, backend, app.ParseTimeMode(cfg.Leaderboard.TimeMode))
	if redisClient != nil {
		bus := infraredis.NewLeaderboardBus(redisClient, cfg.Redis.Channel, log)
		if err := bus.StartForwarder(ctx, func(quizID string) { attempts.Refresh(ctx, quizID) }); err != nil {
			return err
		}
		attempts.UseNotifier(bus)
	}

	quizOpts, err := generationOptions(ctx, cfg, log)
	if err != nil {
		return err
	}
	quizzes := app.NewQuizService(log, quizRepo, quizStore, quizOpts...)
	play := app.NewPlayService(log, app.NewEngine(), quizRepo, sessions, attempts)

	questionTimeout := config.TTLDuration(cfg.Quiz.QuestionTimeout, transport.DefaultQuestionTimeout)
	router := transport.NewRouter(transport.RouterConfig{
		Log:            log,
		QuizHandler:    transport.NewQuizHandler(log, quizzes),
		AttemptHandler: transport.NewAttemptHandler(log, attempts),
		FrameHandler:   transport.NewFrameHandler(log, play, cfg.Frames.PublicURL, cfg.Frames.ImageURL),
		WSHandler:      transport.NewWSHandler(log, play, attempts, questionTimeout),
		Tracing:        cfg.Tracing.Enabled,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// createQuiz waits on the LLM and on-chain confirmation.
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		log.Info("starting quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// generationOptions wires the LLM, pinning and chain clients. CreateQuiz stays
// disabled unless all three are configured.
func generationOptions(ctx context.Context, cfg config.Config, log *logger.Logger) ([]app.QuizServiceOption, error) {
	policy := retry.DefaultPolicy()
	if cfg.Chain.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Chain.MaxAttempts
	}
	policy.Backoff = config.TTLDuration(cfg.Chain.Backoff, policy.Backoff)
	opts := []app.QuizServiceOption{app.WithRetryPolicy(policy)}

	if cfg.LLM.GeminiAPIKey == "" || cfg.Pinning.JWT == "" || cfg.Chain.RPCURL == "" || cfg.Chain.PrivateKey == "" {
		log.Warn("quiz generation disabled: llm, pinning or chain settings missing")
		return opts, nil
	}

	generator, err := llm.New(llm.Config{
		GeminiAPIKey:  cfg.LLM.GeminiAPIKey,
		GeminiModel:   cfg.LLM.GeminiModel,
		GeminiBaseURL: cfg.LLM.GeminiBaseURL,
		OpenAIAPIKey:  cfg.LLM.OpenAIAPIKey,
		OpenAIModel:   cfg.LLM.OpenAIModel,
		OpenAIBaseURL: cfg.LLM.OpenAIBaseURL,
		Timeout:       config.TTLDuration(cfg.LLM.Timeout, 60*time.Second),
	}, log)
	if err != nil {
		return nil, err
	}
	pinner, err := pinning.NewPinata(cfg.Pinning.Endpoint, cfg.Pinning.JWT, nil)
	if err != nil {
		return nil, err
	}
	contract, err := chain.Dial(ctx, chain.Config{
		RPCURL:          cfg.Chain.RPCURL,
		ChainID:         cfg.Chain.ChainID,
		ContractAddress: cfg.Chain.ContractAddress,
		PrivateKey:      cfg.Chain.PrivateKey,
		RequestTimeout:  config.TTLDuration(cfg.Chain.RequestTimeout, 60*time.Second),
	}, log)
	if err != nil {
		return nil, err
	}
	return append(opts, app.WithGeneration(generator, pinner, contract)), nil
}

// sampleQuizzes seeds the in-memory store so a bare `start` has something to play.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-demo": {
			ID:          "quiz-demo",
			Title:       "Celo Basics - Beginner",
			Description: "A beginner quiz about Celo",
			Difficulty:  domain.DifficultyBeginner,
			CreatedAt:   time.Date(2024, 11, 22, 0, 0, 0, 0, time.UTC),
			Questions: []domain.Question{
				{
					ID:            "q1",
					Question:      "What is the native token of the Celo network?",
					Options:       []string{"ETH", "CELO", "SOL", "DOT"},
					CorrectAnswer: "CELO",
					Explanation:   "CELO is the native asset used for gas and governance.",
					Tags:          []string{"Celo", domain.DifficultyBeginner},
				},
				{
					ID:            "q2",
					Question:      "Which testnet is commonly used for Celo development?",
					Options:       []string{"Goerli", "Alfajores", "Sepolia", "Mumbai"},
					CorrectAnswer: "Alfajores",
					Explanation:   "Alfajores is the Celo developer testnet (chain id 44787).",
					Tags:          []string{"Celo", domain.DifficultyBeginner},
				},
			},
		},
	}
}
