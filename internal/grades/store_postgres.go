package grades

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

//go:embed schema.sql
var schemaSQL string

// Migrate creates the grading tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply grading schema: %w", err)
	}
	return nil
}

// PostgresScoreStore is a PostgreSQL-backed ScoreStore and ScoreWriter.
type PostgresScoreStore struct {
	pool *pgxpool.Pool
}

// NewPostgresScoreStore creates a score store on pool.
func NewPostgresScoreStore(pool *pgxpool.Pool) (*PostgresScoreStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresScoreStore{pool: pool}, nil
}

func (s *PostgresScoreStore) Scores(ctx context.Context, courseID, learner string) ([]RawScore, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT block_id, earned, possible, first_attempted
		 FROM problem_scores
		 WHERE course_id = $1
		   AND learner_id = $2
		 ORDER BY block_id ASC`,
		courseID,
		learner,
	)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var out []RawScore
	for rows.Next() {
		var sc RawScore
		if err := rows.Scan(&sc.BlockID, &sc.Earned, &sc.Possible, &sc.FirstAttempted); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return out, nil
}

func (s *PostgresScoreStore) SaveScore(ctx context.Context, courseID, learner string, score RawScore) error {
	if score.BlockID == "" {
		return fmt.Errorf("block_id is required")
	}
	if learner == "" {
		return fmt.Errorf("learner is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO problem_scores (course_id, learner_id, block_id, earned, possible, first_attempted)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (course_id, learner_id, block_id) DO UPDATE
		 SET earned = EXCLUDED.earned,
		     possible = EXCLUDED.possible,
		     first_attempted = LEAST(problem_scores.first_attempted, EXCLUDED.first_attempted),
		     modified_at = NOW()`,
		courseID,
		learner,
		score.BlockID,
		score.Earned,
		score.Possible,
		score.FirstAttempted,
	)
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
