package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"exam-live-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ExamLoader loads exam JSONB from Postgres.
type ExamLoader struct {
	pool *pgxpool.Pool
}

func NewExamLoader(pool *pgxpool.Pool) *ExamLoader {
	return &ExamLoader{pool: pool}
}

func (l *ExamLoader) LoadExam(ctx context.Context, examID string) (domain.Exam, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM exams WHERE id=$1`, examID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load exam: %w", err)
	}
	var exam domain.Exam
	if err := json.Unmarshal(raw, &exam); err != nil {
		return domain.Exam{}, fmt.Errorf("unmarshal exam: %w", err)
	}
	return exam, nil
}
