package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chainiq-service/internal/app"
	"chainiq-service/internal/domain"
	"chainiq-service/internal/pkg/logger"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-1.5-flash"
	defaultOpenAIBaseURL = "https://api.openai.com"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// ErrRateLimited is returned when a provider answers 429.
var ErrRateLimited = errors.New("llm: rate limited")

// Config selects the providers. Gemini is primary; OpenAI is used only when
// Gemini is rate limited and an OpenAI key is present.
type Config struct {
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	Timeout       time.Duration
}

// Generator asks an LLM for multiple-choice questions.
type Generator struct {
	cfg        Config
	log        *logger.Logger
	httpClient *http.Client
}

func New(cfg Config, log *logger.Logger) (*Generator, error) {
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return nil, errors.New("llm: gemini api key required")
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = defaultGeminiModel
	}
	if cfg.GeminiBaseURL == "" {
		cfg.GeminiBaseURL = defaultGeminiBaseURL
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = defaultOpenAIModel
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = defaultOpenAIBaseURL
	}
	cfg.GeminiBaseURL = strings.TrimRight(cfg.GeminiBaseURL, "/")
	cfg.OpenAIBaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Generator{
		cfg:        cfg,
		log:        log.With("service", "LLMGenerator"),
		httpClient: &http.Client{},
	}, nil
}

// NewWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewWithHTTPClient(cfg Config, log *logger.Logger, httpClient *http.Client) (*Generator, error) {
	g, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		g.httpClient = httpClient
	}
	return g, nil
}

type generatedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type generatedPayload struct {
	Questions []generatedQuestion `json:"questions"`
}

func (g *Generator) GenerateQuestions(ctx context.Context, req app.GenerateRequest) ([]domain.Question, error) {
	prompt := buildPrompt(req)

	content, err := g.callGemini(ctx, prompt)
	if errors.Is(err, ErrRateLimited) && g.cfg.OpenAIAPIKey != "" {
		g.log.Warn("gemini rate limited, falling back to openai", "topic", req.Topic)
		content, err = g.callOpenAI(ctx, prompt)
	}
	if err != nil {
		return nil, err
	}
	return parseQuestions(content, req)
}

func buildPrompt(req app.GenerateRequest) string {
	return fmt.Sprintf(
		`Return valid JSON with the structure {"questions":[{"question":"text","options":["a","b","c","d"],"correctAnswer":"a","explanation":"text"}]}. `+
			`Generate %d multiple-choice questions about %q at %s level. `+
			`Each question must have exactly 4 options, a correct answer (option text), and an explanation. `+
			`Ensure the response is a single JSON object, not wrapped in markdown.`,
		req.Count, req.Topic, req.Difficulty,
	)
}

// parseQuestions validates the model output and assigns ids q1..qN.
func parseQuestions(content string, req app.GenerateRequest) ([]domain.Question, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var payload generatedPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("llm: invalid json response: %w", err)
	}
	if len(payload.Questions) == 0 {
		return nil, errors.New("llm: no questions returned")
	}

	out := make([]domain.Question, 0, len(payload.Questions))
	for i, q := range payload.Questions {
		question := domain.Question{
			ID:            fmt.Sprintf("q%d", i+1),
			Question:      q.Question,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
			Tags:          []string{req.Topic, req.Difficulty},
		}
		if err := question.Validate(); err != nil {
			return nil, fmt.Errorf("llm: question %d: %w", i, err)
		}
		out = append(out, question)
	}
	return out, nil
}

// ---------------- Gemini ----------------

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature      float64 `json:"temperature"`
		MaxOutputTokens  int     `json:"maxOutputTokens"`
		ResponseMimeType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Generator) callGemini(ctx context.Context, prompt string) (string, error) {
	var body geminiRequest
	body.Contents = []struct {
		Parts []geminiPart `json:"parts"`
	}{{Parts: []geminiPart{{Text: prompt}}}}
	body.GenerationConfig.Temperature = 0.7
	body.GenerationConfig.MaxOutputTokens = 4096
	body.GenerationConfig.ResponseMimeType = "application/json"

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.GeminiBaseURL, g.cfg.GeminiModel)
	headers := map[string]string{"x-goog-api-key": g.cfg.GeminiAPIKey}
	var resp geminiResponse
	if err := g.doJSON(ctx, endpoint, headers, body, &resp); err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 || resp.Candidates[0].Content.Parts[0].Text == "" {
		return "", errors.New("gemini: empty response")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// ---------------- OpenAI ----------------

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *Generator) callOpenAI(ctx context.Context, prompt string) (string, error) {
	body := chatCompletionRequest{
		Model:          g.cfg.OpenAIModel,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		Temperature:    0.7,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	headers := map[string]string{"Authorization": "Bearer " + g.cfg.OpenAIAPIKey}
	var resp chatCompletionResponse
	if err := g.doJSON(ctx, g.cfg.OpenAIBaseURL+"/v1/chat/completions", headers, body, &resp); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *Generator) doJSON(ctx context.Context, endpoint string, headers map[string]string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return stripURL(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(data), 512))
	}
	return json.Unmarshal(data, out)
}

// stripURL drops the request URL from transport errors so they can be shown
// to clients. The underlying error is kept for timeout classification.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request failed: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
