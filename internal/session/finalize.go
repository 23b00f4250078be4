package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/stemsi/exstem-portal/internal/checksum"
	"github.com/stemsi/exstem-portal/internal/model"
)

// finalize drains the sync queue, sends the full answer set once and clears
// local state on acknowledgement. The caller has already moved the session to
// Submitting. Automatic submissions skip the partial-sync confirmation.
func (s *Session) finalize(ctx context.Context, auto bool) (*Result, error) {
	drainCtx, cancel := context.WithTimeout(ctx, s.opts.DrainTimeout)
	counts, err := s.queue.Drain(drainCtx)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Int("unsynced", counts.Unsynced()).Msg("Drain timed out, continuing with local answers")
	}

	if n := counts.Unsynced(); n > 0 && !auto {
		confirmed, timeUp := s.confirm(ctx, n)
		switch {
		case timeUp:
			s.log.Warn().Int("unsynced", n).Msg("Time ran out before confirmation, submitting automatically")
			auto = true
		case !confirmed:
			s.backToInProgress(ErrSubmitCancelled)
			return nil, ErrSubmitCancelled
		default:
			s.log.Warn().Int("unsynced", n).Msg("Submitting with unsynced answers after confirmation")
		}
	}

	answers := s.mergedAnswers()
	req := model.SubmitRequest{
		Answers:         answers,
		Checksum:        checksum.Of(answers),
		ClientTimestamp: s.clk.Now().UTC(),
	}

	res := &Result{Answered: len(answers)}
	ack, err := s.deps.Backend.Submit(ctx, s.examID, req)
	switch {
	case errors.Is(err, ErrAlreadySubmitted):
		s.log.Info().Msg("Server reports exam already submitted")
		res.AlreadySubmitted = true
		res.SubmittedAt = s.clk.Now()
	case err != nil:
		s.backToInProgress(err)
		return nil, fmt.Errorf("submit exam: %w", err)
	default:
		res.SubmittedAt = ack.SubmittedAt
		res.Answered = ack.Answered
	}

	s.queue.Clear()
	if err := s.clearLocal(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear local state after submission")
	}

	s.mu.Lock()
	s.state = StateSubmitted
	s.result = res
	s.lastErr = nil
	s.stopTimersLocked()
	s.mu.Unlock()
	s.queue.Close()

	s.log.Info().Int("answered", res.Answered).Bool("auto", auto).Msg("Exam submitted")
	return res, nil
}

// confirm asks the student about unsynced answers. The question is withdrawn
// when the deadline passes, and timeUp reports that case.
func (s *Session) confirm(ctx context.Context, unsynced int) (confirmed, timeUp bool) {
	s.mu.Lock()
	left := s.deadline.Sub(s.clk.Now())
	s.mu.Unlock()
	if left <= 0 {
		return false, true
	}
	if s.opts.Confirm == nil {
		return false, false
	}

	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	expiry := s.clk.AfterFunc(left, cancel)
	defer expiry.Stop()

	confirmed = s.opts.Confirm(askCtx, unsynced)
	if askCtx.Err() != nil && ctx.Err() == nil {
		return false, true
	}
	return confirmed, false
}

// backToInProgress reopens the session after a submission that did not go
// through. With no time left the countdown and grace timers may already have
// fired, so the automatic submission is scheduled again here.
func (s *Session) backToInProgress(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateInProgress
	s.lastErr = err
	if s.closed || s.remainingLocked() > 0 {
		return
	}

	delay := s.opts.AutoSubmitRetry
	if left := s.opts.GracePeriod - s.clk.Since(s.loadedAt); left > delay {
		delay = left
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = s.clk.AfterFunc(delay, func() {
		_ = s.checkExpiry(context.Background())
	})
}

// mergedAnswers is the in-memory answer set, topped up with any value only
// the queue still holds. Unanswered questions are left out.
func (s *Session) mergedAnswers() map[string]model.AnswerValue {
	entries := s.queue.Entries()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]model.AnswerValue, len(s.answers))
	for id, v := range s.answers {
		if !v.IsEmpty() {
			out[id] = v
		}
	}
	for _, e := range entries {
		if _, ok := out[e.QuestionID]; ok || e.Value.IsEmpty() {
			continue
		}
		if _, known := s.index[e.QuestionID]; known {
			out[e.QuestionID] = e.Value
		}
	}
	return out
}

func (s *Session) clearLocal(ctx context.Context) error {
	if err := s.deps.Store.ClearQuestionOrder(ctx, s.key); err != nil {
		return err
	}
	return s.deps.Store.Clear(ctx, s.key)
}
