package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
)

// ExamLister is satisfied by *repository.ExamRepository.
type ExamLister interface {
	ListPublished(ctx context.Context) ([]model.Exam, error)
}

// TokenRotator is satisfied by *service.AccessTokenService.
type TokenRotator interface {
	Rotate(ctx context.Context, examID string) (string, error)
}

// TokenRotationWorker issues a fresh access token for every published exam
// whose window has not closed, once per rotation interval. Proctors read the
// current token with cmd/exam-token.
type TokenRotationWorker struct {
	exams    ExamLister
	tokens   TokenRotator
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewTokenRotationWorker(exams ExamLister, tokens TokenRotator, interval time.Duration, log zerolog.Logger) *TokenRotationWorker {
	return &TokenRotationWorker{
		exams:    exams,
		tokens:   tokens,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "token_rotation_worker").Logger(),
	}
}

// Start rotates immediately and then on every tick. Call in a goroutine.
func (w *TokenRotationWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.rotateAll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.rotateAll(ctx)
		}
	}
}

func (w *TokenRotationWorker) rotateAll(ctx context.Context) int {
	exams, err := w.exams.ListPublished(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("List published exams failed")
		}
		return 0
	}

	now := w.now()
	rotated := 0
	for _, e := range exams {
		if e.ScheduledEnd != nil && !now.Before(*e.ScheduledEnd) {
			continue
		}
		if _, err := w.tokens.Rotate(ctx, e.ID.String()); err != nil {
			w.log.Error().Err(err).Str("exam_id", e.ID.String()).Msg("Rotate failed")
			continue
		}
		rotated++
	}
	if rotated > 0 {
		w.log.Debug().Int("count", rotated).Msg("Access tokens rotated")
	}
	return rotated
}
