//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
)

// An autosave that arrives while the submission transaction holds the session
// must not overwrite the final answer once that transaction commits.
func TestAutosaveDuringSubmissionKeepsFinalAnswer(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	var studentID int
	if err := pool.QueryRow(ctx,
		`INSERT INTO students (nisn, name, password_hash) VALUES ('e2e_autosave', 'Autosave', 'x')
		 RETURNING id`).Scan(&studentID); err != nil {
		t.Fatalf("insert student: %v", err)
	}
	exam := uuid.MustParse(examID)
	question := uuid.MustParse(mcIDs[0])
	if _, err := pool.Exec(ctx,
		`INSERT INTO exam_sessions (exam_id, student_id) VALUES ($1, $2)`, exam, studentID); err != nil {
		t.Fatalf("insert session: %v", err)
	}

	submit, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer submit.Rollback(ctx)
	if _, err := submit.Exec(ctx,
		`SELECT 1 FROM exam_sessions WHERE exam_id = $1 AND student_id = $2 FOR UPDATE`,
		exam, studentID); err != nil {
		t.Fatalf("lock session: %v", err)
	}
	if _, err := submit.Exec(ctx,
		`INSERT INTO student_answers (exam_id, student_id, question_id, answer)
		 VALUES ($1, $2, $3, '{"kind":"choice","value":"B"}')`,
		exam, studentID, question); err != nil {
		t.Fatalf("write final answer: %v", err)
	}

	answers := repository.NewAnswerRepository(pool)
	done := make(chan error, 1)
	go func() {
		done <- answers.UpsertBatch(ctx, []repository.AnswerRow{
			{ExamID: exam, StudentID: studentID, QuestionID: question, Answer: model.Choice("A")},
		})
	}()

	select {
	case err := <-done:
		t.Fatalf("autosave finished while the submission was open: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	if _, err := submit.Exec(ctx,
		`UPDATE exam_sessions SET status = 'SUBMITTED', submitted_at = NOW()
		 WHERE exam_id = $1 AND student_id = $2`, exam, studentID); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if err := submit.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("autosave: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("autosave still blocked after the submission committed")
	}

	stored, err := answers.ListBySession(ctx, exam, studentID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	if got := stored[question.String()]; got != model.Choice("B") {
		t.Errorf("stored answer = %+v, want the submitted choice B", got)
	}
}
