package app

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"chainiq-service/internal/domain"
)

func threeQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{ID: "q1", Question: "2 + 2", Options: []string{"3", "4", "5", "6"}, CorrectAnswer: "4"},
			{ID: "q2", Question: "3 * 3", Options: []string{"6", "8", "9", "12"}, CorrectAnswer: "9"},
			{ID: "q3", Question: "10 - 7", Options: []string{"1", "2", "3", "4"}, CorrectAnswer: "3"},
		},
	}
}

func fixedClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestSubmitScoresCorrectAnswer(t *testing.T) {
	engine := NewEngine()
	quiz := threeQuestionQuiz()
	state := engine.Start(quiz.ID, "0xabc")

	correct, attempt, err := engine.Submit(&state, quiz, Choice(1))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !correct || state.Score != 1 || state.CurrentQuestionIndex != 1 || attempt != nil {
		t.Fatalf("unexpected state after correct answer: correct=%v %+v", correct, state)
	}
	if len(state.AnswersGiven) != 1 || state.AnswersGiven[0] != "4" {
		t.Fatalf("expected answer recorded, got %v", state.AnswersGiven)
	}
}

func TestTimeoutNeverScoresAndAlwaysAdvances(t *testing.T) {
	engine := NewEngine()
	quiz := threeQuestionQuiz()
	state := engine.Start(quiz.ID, "0xabc")

	for i := 0; i < len(quiz.Questions); i++ {
		correct, _, err := engine.Submit(&state, quiz, Timeout())
		if err != nil {
			t.Fatalf("timeout %d: %v", i, err)
		}
		if correct || state.Score != 0 || state.CurrentQuestionIndex != i+1 {
			t.Fatalf("timeout %d changed score or failed to advance: %+v", i, state)
		}
	}
	if len(state.AnswersGiven) != 0 {
		t.Fatalf("timeouts must not record answers, got %v", state.AnswersGiven)
	}
	if !state.Complete() {
		t.Fatalf("expected completion after last timeout")
	}
}

func TestSubmitRejectsOutOfRangeIndex(t *testing.T) {
	engine := NewEngine()
	quiz := threeQuestionQuiz()
	state := engine.Start(quiz.ID, "0xabc")

	for _, index := range []int{-1, 4, 7} {
		_, _, err := engine.Submit(&state, quiz, Choice(index))
		if !errors.Is(err, domain.ErrInvalidAnswer) || !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("index %d: expected invalid answer, got %v", index, err)
		}
	}
	if state.CurrentQuestionIndex != 0 || len(state.AnswersGiven) != 0 {
		t.Fatalf("rejected answers must not change state: %+v", state)
	}
}

func TestSubmitAfterCompletionFails(t *testing.T) {
	start := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	engine := NewEngineWithClock(fixedClock(start, start.Add(42*time.Second)))
	quiz := threeQuestionQuiz()
	state := engine.Start(quiz.ID, "0xabc")

	var final *domain.Attempt
	for _, index := range []int{1, 2, 0} {
		_, attempt, err := engine.Submit(&state, quiz, Choice(index))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if attempt != nil {
			if final != nil {
				t.Fatalf("more than one attempt emitted")
			}
			final = attempt
		}
	}
	if final == nil {
		t.Fatalf("expected terminal attempt")
	}
	if final.Score != 2 || final.TimeTakenSeconds != 42 || final.PlayerAddress != "0xabc" {
		t.Fatalf("unexpected attempt: %+v", final)
	}

	if _, _, err := engine.Submit(&state, quiz, Choice(0)); !errors.Is(err, domain.ErrProgressionComplete) {
		t.Fatalf("expected progression complete, got %v", err)
	}
	if _, _, err := engine.Submit(&state, quiz, Timeout()); !errors.Is(err, domain.ErrProgressionComplete) {
		t.Fatalf("expected progression complete for timeout, got %v", err)
	}
}

func TestScoreMatchesCorrectAnswersForRandomSequences(t *testing.T) {
	quiz := threeQuestionQuiz()
	rng := rand.New(rand.NewSource(7))
	engine := NewEngine()

	for run := 0; run < 200; run++ {
		state := engine.Start(quiz.ID, "0xabc")
		expected := 0
		prev := 0
		for i, q := range quiz.Questions {
			var answer Answer
			if rng.Intn(5) == 0 {
				answer = Timeout()
			} else {
				answer = Choice(rng.Intn(domain.OptionsPerQuestion))
				if q.Options[answer.Index] == q.CorrectAnswer {
					expected++
				}
			}
			if _, _, err := engine.Submit(&state, quiz, answer); err != nil {
				t.Fatalf("run %d question %d: %v", run, i, err)
			}
			if state.Score < prev {
				t.Fatalf("score decreased")
			}
			prev = state.Score
		}
		if state.Score != expected || state.Score > len(quiz.Questions) {
			t.Fatalf("run %d: score %d, expected %d", run, state.Score, expected)
		}
	}
}
