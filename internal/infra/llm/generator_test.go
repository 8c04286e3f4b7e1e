package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"chainiq-service/internal/app"
	"chainiq-service/internal/pkg/logger"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

const questionsJSON = `{"questions":[
 {"question":"What is 2 + 2?","options":["3","4","5","6"],"correctAnswer":"4","explanation":"Basic addition."},
 {"question":"What is 3 * 3?","options":["6","8","9","12"],"correctAnswer":"9","explanation":"Basic multiplication."}
]}`

func jsonResponse(status int, v any) *http.Response {
	b, _ := json.Marshal(v)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(b)),
	}
}

func geminiBody(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	}
}

func TestGenerateQuestionsFromGemini(t *testing.T) {
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if !strings.HasSuffix(req.URL.Path, "/models/gemini-1.5-flash:generateContent") {
				t.Fatalf("unexpected path: %s", req.URL.Path)
			}
			if req.Header.Get("x-goog-api-key") != "gem-key" {
				t.Fatalf("missing api key header")
			}
			if req.URL.RawQuery != "" {
				t.Fatalf("api key must not travel in the query: %s", req.URL.RawQuery)
			}
			return jsonResponse(http.StatusOK, geminiBody(questionsJSON)), nil
		}),
	}

	g, err := NewWithHTTPClient(Config{GeminiAPIKey: "gem-key", GeminiBaseURL: "http://gemini"}, logger.NewNop(), client)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	questions, err := g.GenerateQuestions(context.Background(), app.GenerateRequest{Topic: "Math", Difficulty: "beginner", Count: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].ID != "q1" || questions[1].ID != "q2" {
		t.Fatalf("expected sequential ids, got %q %q", questions[0].ID, questions[1].ID)
	}
	if len(questions[1].Tags) != 2 || questions[1].Tags[0] != "Math" || questions[1].Tags[1] != "beginner" {
		t.Fatalf("unexpected tags: %v", questions[1].Tags)
	}
}

func TestGenerateQuestionsFallsBackToOpenAIOnRateLimit(t *testing.T) {
	var openAICalls int
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			switch req.URL.Host {
			case "gemini":
				return jsonResponse(http.StatusTooManyRequests, map[string]string{"error": "quota"}), nil
			case "openai":
				openAICalls++
				if req.Header.Get("Authorization") != "Bearer oa-key" {
					t.Fatalf("missing bearer token")
				}
				return jsonResponse(http.StatusOK, map[string]any{
					"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": questionsJSON}}},
				}), nil
			}
			t.Fatalf("unexpected host %s", req.URL.Host)
			return nil, nil
		}),
	}

	g, err := NewWithHTTPClient(Config{
		GeminiAPIKey:  "gem-key",
		GeminiBaseURL: "http://gemini",
		OpenAIAPIKey:  "oa-key",
		OpenAIBaseURL: "http://openai",
	}, logger.NewNop(), client)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	questions, err := g.GenerateQuestions(context.Background(), app.GenerateRequest{Topic: "Math", Difficulty: "beginner", Count: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if openAICalls != 1 || len(questions) != 2 {
		t.Fatalf("expected openai fallback, calls=%d questions=%d", openAICalls, len(questions))
	}
}

func TestGenerateQuestionsRejectsInvalidShape(t *testing.T) {
	bad := `{"questions":[{"question":"Pick","options":["a","b","c"],"correctAnswer":"a","explanation":""}]}`
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, geminiBody(bad)), nil
		}),
	}
	g, err := NewWithHTTPClient(Config{GeminiAPIKey: "gem-key"}, logger.NewNop(), client)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := g.GenerateQuestions(context.Background(), app.GenerateRequest{Topic: "x", Difficulty: "beginner", Count: 1}); err == nil {
		t.Fatalf("expected error for three-option question")
	}
}

func TestRateLimitWithoutOpenAIKeyFails(t *testing.T) {
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusTooManyRequests, map[string]string{}), nil
		}),
	}
	g, err := NewWithHTTPClient(Config{GeminiAPIKey: "gem-key"}, logger.NewNop(), client)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = g.GenerateQuestions(context.Background(), app.GenerateRequest{Topic: "x", Difficulty: "beginner", Count: 1})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestTransportErrorsDoNotExposeAPIKey(t *testing.T) {
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return nil, timeoutError{}
		}),
	}
	g, err := NewWithHTTPClient(Config{GeminiAPIKey: "SECRET-KEY-123"}, logger.NewNop(), client)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = g.GenerateQuestions(context.Background(), app.GenerateRequest{Topic: "x", Difficulty: "beginner", Count: 1})
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if strings.Contains(err.Error(), "SECRET-KEY-123") || strings.Contains(err.Error(), "generativelanguage") {
		t.Fatalf("error leaks request details: %v", err)
	}
	var timeout timeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected underlying timeout to be preserved, got %v", err)
	}
}
