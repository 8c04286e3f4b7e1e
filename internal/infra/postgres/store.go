package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chainiq-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store persists quizzes as JSONB and attempts as rows in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return quiz, nil
}

func (s *Store) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO quizzes (id, title, data, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		quiz.ID, quiz.Title, raw, quiz.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateQuiz
	}
	return nil
}

func (s *Store) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM quizzes ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	quizzes := make([]domain.Quiz, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		var quiz domain.Quiz
		if err := json.Unmarshal(raw, &quiz); err != nil {
			return nil, fmt.Errorf("unmarshal quiz: %w", err)
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes, rows.Err()
}

func (s *Store) SaveAttempt(ctx context.Context, attempt domain.Attempt) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_attempts (quiz_id, player_address, score, completed_at, time_taken)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (quiz_id, player_address, completed_at) DO NOTHING`,
		attempt.QuizID, attempt.PlayerAddress, attempt.Score, attempt.CompletedAt, attempt.TimeTakenSeconds,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateAttempt
	}
	return nil
}

func (s *Store) QuizAttempts(ctx context.Context, quizID string) ([]domain.Attempt, error) {
	return s.queryAttempts(ctx,
		`SELECT quiz_id, player_address, score, completed_at, time_taken
		 FROM quiz_attempts WHERE quiz_id=$1 ORDER BY completed_at`,
		quizID,
	)
}

func (s *Store) PlayerAttempts(ctx context.Context, address, quizID string) ([]domain.Attempt, error) {
	if quizID == "" {
		return s.queryAttempts(ctx,
			`SELECT quiz_id, player_address, score, completed_at, time_taken
			 FROM quiz_attempts WHERE player_address=$1 ORDER BY completed_at`,
			address,
		)
	}
	return s.queryAttempts(ctx,
		`SELECT quiz_id, player_address, score, completed_at, time_taken
		 FROM quiz_attempts WHERE player_address=$1 AND quiz_id=$2 ORDER BY completed_at`,
		address, quizID,
	)
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...interface{}) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.Attempt, 0)
	for rows.Next() {
		var a domain.Attempt
		if err := rows.Scan(&a.QuizID, &a.PlayerAddress, &a.Score, &a.CompletedAt, &a.TimeTakenSeconds); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.CompletedAt = a.CompletedAt.UTC()
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
