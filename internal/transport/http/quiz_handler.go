package http

import (
	"errors"
	"net/http"
	"strconv"

	"chainiq-service/internal/app"
	"chainiq-service/internal/domain"
	"chainiq-service/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

type QuizHandler struct {
	log     *logger.Logger
	service *app.QuizService
}

func NewQuizHandler(log *logger.Logger, service *app.QuizService) *QuizHandler {
	return &QuizHandler{
		log:     log.With("handler", "QuizHandler"),
		service: service,
	}
}

// GetQuizzes returns one quiz when ?id= is given, otherwise every quiz newest first.
func (h *QuizHandler) GetQuizzes(c *gin.Context) {
	if id, ok := c.GetQuery("id"); ok {
		quiz, err := h.service.GetQuiz(c.Request.Context(), id)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, quiz)
		return
	}
	quizzes, err := h.service.ListQuizzes(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, quizzes)
}

type postQuizRequest struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Questions   []domain.Question `json:"questions"`
}

func (h *QuizHandler) PostQuiz(c *gin.Context) {
	var req postQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, domain.Validation("invalid quiz data"))
		return
	}
	quiz := domain.Quiz{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		Questions:   req.Questions,
	}
	if err := h.service.PublishQuiz(c.Request.Context(), quiz); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

const (
	// maxCreateQuizBody leaves room for the form fields around the image.
	maxCreateQuizBody = app.MaxImageBytes + 1<<20
	multipartMemory   = 8 << 20
)

// CreateQuiz accepts multipart topic, difficulty, questionCount and image.
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCreateQuizBody)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, h.log, domain.Validation("image size must be less than 5MB"))
			return
		}
		writeError(c, h.log, domain.Validation("invalid input data: expected multipart form"))
		return
	}

	count, err := strconv.Atoi(c.PostForm("questionCount"))
	if err != nil {
		writeError(c, h.log, domain.Validation("invalid input data: questionCount must be an integer"))
		return
	}
	header, err := c.FormFile("image")
	if err != nil {
		writeError(c, h.log, domain.Validation("invalid input data: image is required"))
		return
	}
	if header.Size > app.MaxImageBytes {
		writeError(c, h.log, domain.Validation("image size must be less than 5MB"))
		return
	}
	file, err := header.Open()
	if err != nil {
		writeError(c, h.log, domain.Validation("invalid input data: unreadable image"))
		return
	}
	defer file.Close()

	quiz, err := h.service.CreateQuiz(c.Request.Context(), app.CreateQuizInput{
		Topic:         c.PostForm("topic"),
		Difficulty:    c.PostForm("difficulty"),
		QuestionCount: count,
		ImageName:     header.Filename,
		ImageSize:     header.Size,
		Image:         file,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quiz": quiz})
}
