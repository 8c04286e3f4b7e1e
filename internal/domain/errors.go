package domain

import "errors"

// Error categories. Handlers map these to status codes with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrUpstream   = errors.New("upstream failure")
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = newError(ErrNotFound, "quiz not found")
	// ErrSessionNotFound is returned when a player has no progression for a quiz.
	ErrSessionNotFound = newError(ErrNotFound, "no quiz in progress for player")
	// ErrProgressionComplete is returned when answering past the last question.
	ErrProgressionComplete = newError(ErrConflict, "quiz progression already complete")
	// ErrProgressionInProgress is returned when a retake is requested mid-quiz.
	ErrProgressionInProgress = newError(ErrConflict, "quiz progression still in progress")
	// ErrRetakeForbidden is returned once a player has a perfect attempt.
	ErrRetakeForbidden = newError(ErrConflict, "perfect score reached, no more attempts allowed")
	// ErrDuplicateAttempt indicates the (quiz, player, completedAt) key already exists.
	ErrDuplicateAttempt = newError(ErrConflict, "quiz attempt already recorded")
	// ErrDuplicateQuiz indicates a quiz with the same id exists.
	ErrDuplicateQuiz = newError(ErrConflict, "quiz already exists")
	// ErrStateConflict is returned when a progression changed under a concurrent update.
	ErrStateConflict = newError(ErrConflict, "progression state changed concurrently")
	// ErrInvalidAnswer indicates an answer index outside the option list.
	ErrInvalidAnswer = newError(ErrValidation, "answer index out of range")
	// ErrNotConfigured is returned when an external collaborator is not wired.
	ErrNotConfigured = newError(ErrUpstream, "upstream service not configured")
)

// Error carries a category, a client-facing message and an optional cause.
type Error struct {
	kind  error
	msg   string
	cause error
}

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

// Is reports category membership so callers can test errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	return target == e.kind
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Validation builds a 400-class error with the given message.
func Validation(msg string) error {
	return newError(ErrValidation, msg)
}

// Upstream wraps a failure from an external collaborator (LLM, pinning, chain, store).
func Upstream(msg string, cause error) error {
	return &Error{kind: ErrUpstream, msg: msg, cause: cause}
}
