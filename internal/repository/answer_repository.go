package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-portal/internal/model"
)

// AnswerRow is one stored answer.
type AnswerRow struct {
	ExamID     uuid.UUID
	StudentID  int
	QuestionID uuid.UUID
	Answer     model.AnswerValue
}

// AnswerRepository handles student_answers data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// UpsertBatch writes every row in one statement. Later rows for the same key
// win, matching the order they were queued in. Rows of submitted attempts are
// skipped so a late autosave never overwrites the final answer set.
//
// The affected sessions are share-locked first. An autosave racing a
// submission waits for it to commit and then sees the attempt as submitted.
func (r *AnswerRepository) UpsertBatch(ctx context.Context, rows []AnswerRow) error {
	rows = lastPerKey(rows)
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	exams, students := sessionsOf(rows)
	if _, err := tx.Exec(ctx,
		`SELECT 1 FROM exam_sessions es
		 JOIN UNNEST($1::uuid[], $2::int[]) AS t(e, s)
		   ON es.exam_id = t.e AND es.student_id = t.s
		 ORDER BY es.id
		 FOR SHARE OF es`,
		exams, students,
	); err != nil {
		return fmt.Errorf("lock sessions: %w", err)
	}

	if err := r.upsert(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Upsert writes a single answer.
func (r *AnswerRepository) Upsert(ctx context.Context, row AnswerRow) error {
	return r.UpsertBatch(ctx, []AnswerRow{row})
}

// sessionsOf lists each (exam, student) pair once, as parallel arrays.
func sessionsOf(rows []AnswerRow) ([]uuid.UUID, []int32) {
	type key struct {
		exam    uuid.UUID
		student int
	}
	seen := make(map[key]bool, len(rows))
	var exams []uuid.UUID
	var students []int32
	for _, row := range rows {
		k := key{row.ExamID, row.StudentID}
		if seen[k] {
			continue
		}
		seen[k] = true
		exams = append(exams, row.ExamID)
		students = append(students, int32(row.StudentID))
	}
	return exams, students
}

func (r *AnswerRepository) upsert(ctx context.Context, db execer, rows []AnswerRow) error {
	rows = lastPerKey(rows)
	if len(rows) == 0 {
		return nil
	}

	examIDs := make([]uuid.UUID, len(rows))
	studentIDs := make([]int32, len(rows))
	questionIDs := make([]uuid.UUID, len(rows))
	answers := make([]string, len(rows))
	for i, row := range rows {
		b, err := json.Marshal(row.Answer)
		if err != nil {
			return fmt.Errorf("encode answer %s: %w", row.QuestionID, err)
		}
		examIDs[i] = row.ExamID
		studentIDs[i] = int32(row.StudentID)
		questionIDs[i] = row.QuestionID
		answers[i] = string(b)
	}

	_, err := db.Exec(ctx,
		`INSERT INTO student_answers (exam_id, student_id, question_id, answer)
		 SELECT t.e, t.s, t.q, t.a::jsonb
		 FROM UNNEST($1::uuid[], $2::int[], $3::uuid[], $4::text[]) AS t(e, s, q, a)
		 WHERE NOT EXISTS (
		     SELECT 1 FROM exam_sessions es
		     WHERE es.exam_id = t.e AND es.student_id = t.s AND es.status = 'SUBMITTED')
		 ON CONFLICT (exam_id, student_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = NOW()`,
		examIDs, studentIDs, questionIDs, answers,
	)
	return err
}

// lastPerKey keeps the final row for each (exam, student, question), since one
// INSERT ... ON CONFLICT cannot touch the same row twice.
func lastPerKey(rows []AnswerRow) []AnswerRow {
	type key struct {
		exam     uuid.UUID
		student  int
		question uuid.UUID
	}
	pos := make(map[key]int, len(rows))
	out := make([]AnswerRow, 0, len(rows))
	for _, row := range rows {
		k := key{row.ExamID, row.StudentID, row.QuestionID}
		if i, ok := pos[k]; ok {
			out[i] = row
			continue
		}
		pos[k] = len(out)
		out = append(out, row)
	}
	return out
}

// ListBySession returns a student's stored answers for one exam, keyed by
// question id.
func (r *AnswerRepository) ListBySession(ctx context.Context, examID uuid.UUID, studentID int) (map[string]model.AnswerValue, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer FROM student_answers
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.AnswerValue)
	for rows.Next() {
		var qid uuid.UUID
		var raw []byte
		if err := rows.Scan(&qid, &raw); err != nil {
			return nil, err
		}
		var v model.AnswerValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", qid, err)
		}
		out[qid.String()] = v
	}
	return out, rows.Err()
}
