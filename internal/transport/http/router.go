package http

import (
	"net/http"
	"time"

	"chainiq-service/internal/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterConfig struct {
	Log            *logger.Logger
	QuizHandler    *QuizHandler
	AttemptHandler *AttemptHandler
	FrameHandler   *FrameHandler
	WSHandler      *WSHandler
	Tracing        bool
	ServiceName    string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Tracing {
		name := cfg.ServiceName
		if name == "" {
			name = "chainiq-service"
		}
		r.Use(otelgin.Middleware(name))
	}
	r.Use(RequestLogger(cfg.Log))
	r.Use(MetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization", "X-Requested-With"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.QuizHandler != nil {
		r.GET("/quizzes", cfg.QuizHandler.GetQuizzes)
		r.POST("/quizzes", cfg.QuizHandler.PostQuiz)
		r.POST("/createQuiz", cfg.QuizHandler.CreateQuiz)
	}
	if cfg.AttemptHandler != nil {
		r.GET("/quizAttempts", cfg.AttemptHandler.GetAttempts)
		r.POST("/quizAttempts", cfg.AttemptHandler.PostAttempt)
		r.GET("/leaderboard", cfg.AttemptHandler.GetLeaderboard)
	}
	if cfg.FrameHandler != nil {
		r.GET("/frames/quiz", cfg.FrameHandler.StartFrame)
		r.POST("/frames/quiz", cfg.FrameHandler.PostFrame)
	}
	if cfg.WSHandler != nil {
		r.GET("/ws/play", gin.WrapF(cfg.WSHandler.ServePlay))
		r.GET("/ws/leaderboard", gin.WrapF(cfg.WSHandler.ServeLeaderboard))
	}
	return r
}
