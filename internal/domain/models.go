package domain

import (
	"fmt"
	"strconv"
	"time"
)

// OptionsPerQuestion is the fixed number of answer options on every question.
const OptionsPerQuestion = 4

// Difficulty levels accepted by quiz generation.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// ValidDifficulty reports whether d is one of the supported levels.
func ValidDifficulty(d string) bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	Tags          []string `json:"tags"`
}

// Validate checks the four-option shape and that the correct answer is one of the options.
func (q Question) Validate() error {
	if q.ID == "" {
		return Validation("question id is required")
	}
	if q.Question == "" {
		return Validation(fmt.Sprintf("question %s has no text", q.ID))
	}
	if len(q.Options) != OptionsPerQuestion {
		return Validation(fmt.Sprintf("question %s must have exactly %d options", q.ID, OptionsPerQuestion))
	}
	for _, opt := range q.Options {
		if opt == q.CorrectAnswer {
			return nil
		}
	}
	return Validation(fmt.Sprintf("question %s correct answer is not one of its options", q.ID))
}

// Quiz is an ordered collection of questions plus reward metadata.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Difficulty      string     `json:"difficulty,omitempty"`
	EstimatedTime   int        `json:"estimatedTime,omitempty"`
	RewardType      string     `json:"rewardType,omitempty"`
	RewardAmount    int        `json:"rewardAmount,omitempty"`
	NFTMetadata     string     `json:"nftMetadata,omitempty"`
	TransactionHash string     `json:"transactionHash,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	Questions       []Question `json:"questions"`
}

// Validate checks the quiz identity and every question.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return Validation("quiz id is required")
	}
	if q.Title == "" {
		return Validation("quiz title is required")
	}
	if len(q.Questions) == 0 {
		return Validation("quiz must have at least one question")
	}
	for i, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return Validation(fmt.Sprintf("invalid question format at index %d: %v", i, err))
		}
	}
	return nil
}

// Attempt is one completed play-through of a quiz.
type Attempt struct {
	QuizID           string    `json:"quizId"`
	PlayerAddress    string    `json:"address"`
	Score            int       `json:"score"`
	CompletedAt      time.Time `json:"completedAt"`
	TimeTakenSeconds float64   `json:"timeTaken"`
}

// IsPerfect reports whether the attempt answered every question correctly.
func (a Attempt) IsPerfect(totalQuestions int) bool {
	return totalQuestions > 0 && a.Score == totalQuestions
}

// ProgressionState is a player's in-flight position within a quiz.
type ProgressionState struct {
	QuizID               string     `json:"quizId"`
	PlayerID             string     `json:"playerId"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	Score                int        `json:"score"`
	AnswersGiven         []string   `json:"answersGiven"`
	StartedAt            time.Time  `json:"startedAt"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	// Version is bumped by the session store on every save.
	Version int64 `json:"version"`
}

// ProgressionKey identifies one (quiz, player) progression. The quiz id is
// length-prefixed so ids containing the separator cannot collide.
func ProgressionKey(quizID, playerID string) string {
	return strconv.Itoa(len(quizID)) + ":" + quizID + ":" + playerID
}

// CheckOwner fails when a stored state does not belong to the requested quiz and player.
func (s ProgressionState) CheckOwner(quizID, playerID string) error {
	if s.QuizID != quizID || s.PlayerID != playerID {
		return fmt.Errorf("progression for %q/%q holds state of %q/%q", quizID, playerID, s.QuizID, s.PlayerID)
	}
	return nil
}

// Complete reports whether the progression reached its terminal state.
func (s ProgressionState) Complete() bool {
	return s.CompletedAt != nil
}

// QuestionPrompt is the player-facing view of a question, without the answer.
type QuestionPrompt struct {
	Index    int      `json:"index"`
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// PromptAt returns the player-facing view of question i.
func (q Quiz) PromptAt(i int) QuestionPrompt {
	question := q.Questions[i]
	return QuestionPrompt{
		Index:    i,
		ID:       question.ID,
		Question: question.Question,
		Options:  append([]string(nil), question.Options...),
	}
}

// LeaderboardEntry is one ranked player for a quiz.
type LeaderboardEntry struct {
	Address              string  `json:"address"`
	AttemptsUntilPerfect int     `json:"attemptsUntilPerfect"`
	TotalTimeSeconds     float64 `json:"totalTime"`
	Perfect              bool    `json:"perfect"`
	Attempts             int     `json:"attempts"`
}

// Leaderboard captures the ordered ranking for a quiz.
type Leaderboard struct {
	QuizID    string             `json:"quizId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
