package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/repository"
)

const (
	defaultBatchSize  = 200
	defaultRetryDelay = 5 * time.Second
	drainTimeout      = 30 * time.Second
)

// AnswerSink is satisfied by *repository.AnswerRepository.
type AnswerSink interface {
	UpsertBatch(ctx context.Context, rows []repository.AnswerRow) error
	Upsert(ctx context.Context, row repository.AnswerRow) error
}

// AutosaveWorker consumes the persist queue and upserts answers into
// PostgreSQL in batches.
type AutosaveWorker struct {
	sink       AnswerSink
	rdb        *redis.Client
	log        zerolog.Logger
	batchSize  int
	retryDelay time.Duration
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(sink AnswerSink, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		sink:       sink,
		rdb:        rdb,
		log:        log.With().Str("component", "autosave_worker").Logger(),
		batchSize:  defaultBatchSize,
		retryDelay: defaultRetryDelay,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			if requeued := w.processNext(ctx); requeued > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(w.retryDelay):
				}
			}
		}
	}
}

// processNext waits up to a second for work, then takes whatever else is
// queued up to the batch size. It returns how many entries went back on the
// queue.
func (w *AutosaveWorker) processNext(ctx context.Context) int {
	queue := config.WorkerKey.PersistAnswersQueue

	result, err := w.rdb.BLPop(ctx, time.Second, queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return 0
	}
	if len(result) < 2 {
		return 0
	}

	raws := []string{result[1]}
	if w.batchSize > 1 {
		more, err := w.rdb.LPopCount(ctx, queue, w.batchSize-1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			w.log.Warn().Err(err).Msg("LPopCount error")
		}
		raws = append(raws, more...)
	}

	return w.persist(ctx, raws)
}

// persist writes one batch. When the batch statement fails, rows are
// retried one by one so a single bad row cannot hold back the rest; rows
// that still fail are pushed back.
func (w *AutosaveWorker) persist(ctx context.Context, raws []string) int {
	rows := make([]repository.AnswerRow, 0, len(raws))
	kept := make([]string, 0, len(raws))
	for _, raw := range raws {
		row, err := decodeAnswer(raw)
		if err != nil {
			w.log.Error().Err(err).Str("payload", raw).Msg("Dropping malformed queue entry")
			continue
		}
		rows = append(rows, row)
		kept = append(kept, raw)
	}
	if len(rows) == 0 {
		return 0
	}

	err := w.sink.UpsertBatch(ctx, rows)
	if err == nil {
		w.log.Debug().Int("count", len(rows)).Msg("Batch persisted")
		return 0
	}
	w.log.Warn().Err(err).Int("count", len(rows)).Msg("Batch persist failed, falling back to single rows")

	var retry []any
	for i, row := range rows {
		if err := w.sink.Upsert(ctx, row); err != nil {
			w.log.Error().Err(err).
				Int("student_id", row.StudentID).
				Str("exam_id", row.ExamID.String()).
				Str("question_id", row.QuestionID.String()).
				Msg("Persist error, requeueing")
			retry = append(retry, kept[i])
		}
	}
	if len(retry) == 0 {
		return 0
	}

	// Background context: a shutdown must not lose the entries we popped.
	if err := w.rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, retry...).Err(); err != nil {
		w.log.Error().Err(err).Int("count", len(retry)).Msg("Requeue failed, answers remain in the Redis hash only")
	}
	return len(retry)
}

func decodeAnswer(raw string) (repository.AnswerRow, error) {
	var msg model.PersistAnswerMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return repository.AnswerRow{}, fmt.Errorf("decode: %w", err)
	}
	examID, err := uuid.Parse(msg.ExamID)
	if err != nil {
		return repository.AnswerRow{}, fmt.Errorf("exam id: %w", err)
	}
	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		return repository.AnswerRow{}, fmt.Errorf("question id: %w", err)
	}
	if msg.StudentID <= 0 {
		return repository.AnswerRow{}, fmt.Errorf("student id %d", msg.StudentID)
	}
	return repository.AnswerRow{
		ExamID:     examID,
		StudentID:  msg.StudentID,
		QuestionID: questionID,
		Answer:     msg.Answer,
	}, nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	queue := config.WorkerKey.PersistAnswersQueue
	drained := 0
	for ctx.Err() == nil {
		raws, err := w.rdb.LPopCount(ctx, queue, w.batchSize).Result()
		if err != nil || len(raws) == 0 {
			break
		}
		if requeued := w.persist(ctx, raws); requeued > 0 {
			w.log.Error().Int("count", requeued).Msg("Drain stopped, entries left for next start")
			break
		}
		drained += len(raws)
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
