package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-portal/internal/model"
)

// ErrSessionSubmitted is returned when a submission hits an attempt that was
// already submitted.
var ErrSessionSubmitted = errors.New("exam session already submitted")

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool    *pgxpool.Pool
	answers *AnswerRepository
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool, answers *AnswerRepository) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool, answers: answers}
}

const sessionColumns = `id, exam_id, student_id, started_at, submitted_at, client_submitted_at, checksum, status`

func scanSession(row pgx.Row, s *model.ExamSession) error {
	return row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.SubmittedAt,
		&s.ClientSubmittedAt, &s.Checksum, &s.Status)
}

// GetByExamAndStudent retrieves a session for a specific exam-student combination.
func (r *ExamSessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID)
	if err := scanSession(row, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new exam session. Returns pgx.ErrNoRows when a concurrent
// start already created it.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id, started_at, status`,
		s.ExamID, s.StudentID, model.SessionStatusInProgress,
	).Scan(&s.ID, &s.StartedAt, &s.Status)
}

// Submit stores the final answer set and closes the attempt in one
// transaction. The row lock serialises concurrent submissions, so exactly one
// of them wins and the rest get ErrSessionSubmitted.
func (r *ExamSessionRepository) Submit(ctx context.Context, examID uuid.UUID, studentID int, answers []AnswerRow, checksum string, clientAt time.Time) (*model.ExamSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s := &model.ExamSession{}
	row := tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2
		 FOR UPDATE`, examID, studentID)
	if err := scanSession(row, s); err != nil {
		return nil, err
	}
	if s.Status == model.SessionStatusSubmitted {
		return s, ErrSessionSubmitted
	}

	if err := r.answers.upsert(ctx, tx, answers); err != nil {
		return nil, fmt.Errorf("store answers: %w", err)
	}

	err = tx.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $1, submitted_at = NOW(), client_submitted_at = $2, checksum = $3
		 WHERE id = $4
		 RETURNING submitted_at`,
		model.SessionStatusSubmitted, clientAt, checksum, s.ID,
	).Scan(&s.SubmittedAt)
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.Status = model.SessionStatusSubmitted
	s.ClientSubmittedAt = &clientAt
	s.Checksum = &checksum
	return s, nil
}
