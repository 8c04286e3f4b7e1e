package http

import (
	"net/http"

	"chainiq-service/internal/app"
	"chainiq-service/internal/domain"
	"chainiq-service/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

type AttemptHandler struct {
	log      *logger.Logger
	attempts *app.AttemptService
}

func NewAttemptHandler(log *logger.Logger, attempts *app.AttemptService) *AttemptHandler {
	return &AttemptHandler{
		log:      log.With("handler", "AttemptHandler"),
		attempts: attempts,
	}
}

func (h *AttemptHandler) GetAttempts(c *gin.Context) {
	history, err := h.attempts.History(c.Request.Context(), c.Query("address"), c.Query("quizId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

type postAttemptRequest struct {
	QuizID    string   `json:"quizId"`
	Address   string   `json:"address"`
	Score     *int     `json:"score"`
	TimeTaken *float64 `json:"timeTaken"`
}

func (h *AttemptHandler) PostAttempt(c *gin.Context) {
	var req postAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Score == nil || req.TimeTaken == nil {
		writeError(c, h.log, domain.Validation("invalid quiz attempt data"))
		return
	}
	_, err := h.attempts.Record(c.Request.Context(), app.RecordAttemptInput{
		QuizID:    req.QuizID,
		Address:   req.Address,
		Score:     *req.Score,
		TimeTaken: *req.TimeTaken,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AttemptHandler) GetLeaderboard(c *gin.Context) {
	lb, err := h.attempts.Leaderboard(c.Request.Context(), c.Query("quizId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, lb.Entries)
}
