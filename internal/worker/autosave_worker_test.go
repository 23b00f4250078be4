package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
)

type fakeSink struct {
	mu       sync.Mutex
	batchErr error
	badQID   uuid.UUID
	batches  [][]repository.AnswerRow
	singles  []repository.AnswerRow
}

func (f *fakeSink) UpsertBatch(_ context.Context, rows []repository.AnswerRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, rows)
	return nil
}

func (f *fakeSink) Upsert(_ context.Context, row repository.AnswerRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.QuestionID == f.badQID {
		return errors.New("constraint violation")
	}
	f.singles = append(f.singles, row)
	return nil
}

func newTestWorker(t *testing.T, sink AnswerSink) (*AutosaveWorker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	w := NewAutosaveWorker(sink, rdb, zerolog.Nop())
	w.retryDelay = 0
	return w, mr
}

func pushAnswer(t *testing.T, mr *miniredis.Miniredis, examID, qid uuid.UUID, choice string) {
	t.Helper()
	b, err := json.Marshal(model.PersistAnswerMessage{
		StudentID: 7,
		ExamID:    examID.String(),
		QID:       qid.String(),
		Answer:    model.Choice(choice),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mr.Push(config.WorkerKey.PersistAnswersQueue, string(b)); err != nil {
		t.Fatal(err)
	}
}

func TestProcessNextBatchesQueuedAnswers(t *testing.T) {
	sink := &fakeSink{}
	w, mr := newTestWorker(t, sink)

	exam := uuid.New()
	q1, q2 := uuid.New(), uuid.New()
	pushAnswer(t, mr, exam, q1, "A")
	pushAnswer(t, mr, exam, q2, "B")
	if _, err := mr.Push(config.WorkerKey.PersistAnswersQueue, "{not json"); err != nil {
		t.Fatal(err)
	}

	if requeued := w.processNext(context.Background()); requeued != 0 {
		t.Fatalf("requeued = %d", requeued)
	}

	if len(sink.batches) != 1 || len(sink.batches[0]) != 2 {
		t.Fatalf("batches = %+v", sink.batches)
	}
	got := sink.batches[0][1]
	if got.QuestionID != q2 || got.StudentID != 7 || got.Answer.Value != "B" {
		t.Fatalf("row = %+v", got)
	}
	if mr.Exists(config.WorkerKey.PersistAnswersQueue) {
		t.Fatal("queue should be empty, malformed entry dropped")
	}
}

func TestProcessNextFallsBackToSingleRows(t *testing.T) {
	bad := uuid.New()
	sink := &fakeSink{batchErr: errors.New("deadlock detected"), badQID: bad}
	w, mr := newTestWorker(t, sink)

	exam := uuid.New()
	good := uuid.New()
	pushAnswer(t, mr, exam, good, "C")
	pushAnswer(t, mr, exam, bad, "D")

	if requeued := w.processNext(context.Background()); requeued != 1 {
		t.Fatalf("requeued = %d, want 1", requeued)
	}
	if len(sink.singles) != 1 || sink.singles[0].QuestionID != good {
		t.Fatalf("singles = %+v", sink.singles)
	}

	left, err := mr.List(config.WorkerKey.PersistAnswersQueue)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Fatalf("queue = %v", left)
	}
	row, err := decodeAnswer(left[0])
	if err != nil || row.QuestionID != bad {
		t.Fatalf("requeued row = %+v, %v", row, err)
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	sink := &fakeSink{}
	w, mr := newTestWorker(t, sink)
	w.batchSize = 2

	exam := uuid.New()
	for _, c := range []string{"A", "B", "C"} {
		pushAnswer(t, mr, exam, uuid.New(), c)
	}

	w.drain(context.Background())

	if len(sink.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(sink.batches))
	}
	if mr.Exists(config.WorkerKey.PersistAnswersQueue) {
		t.Fatal("queue not drained")
	}
}

func TestDecodeAnswerRejectsBadIDs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad exam", `{"student_id":1,"exam_id":"x","q_id":"` + uuid.NewString() + `"}`},
		{"bad question", `{"student_id":1,"exam_id":"` + uuid.NewString() + `","q_id":"y"}`},
		{"no student", `{"exam_id":"` + uuid.NewString() + `","q_id":"` + uuid.NewString() + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeAnswer(tt.raw); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
