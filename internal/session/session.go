// Package session drives one student's timed attempt at one exam: the start
// gate, the server-synchronised countdown, answer edits and the single final
// submission.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/ordering"
	"github.com/stemsi/exstem-portal/internal/queue"
	"github.com/stemsi/exstem-portal/internal/store"
)

// State is the lifecycle stage of a session.
type State string

const (
	StateNotStarted    State = "NOT_STARTED"
	StateAwaitingToken State = "AWAITING_TOKEN"
	StateInProgress    State = "IN_PROGRESS"
	StateSubmitting    State = "SUBMITTING"
	StateSubmitted     State = "SUBMITTED"
	StateExpired       State = "EXPIRED"
)

var (
	ErrNoQuestions      = errors.New("exam has no questions")
	ErrTokenRejected    = errors.New("access token rejected")
	ErrSubmitCancelled  = errors.New("submission cancelled")
	ErrPhotoUnavailable = errors.New("photo upload unavailable")
	ErrAlreadySubmitted = errors.New("exam already submitted")
	ErrNotInProgress    = errors.New("session is not in progress")
	ErrInvalidState     = errors.New("operation not allowed in current state")
	ErrUnknownQuestion  = errors.New("unknown question")
)

// IncompleteError lists the 1-based numbers of unanswered questions.
type IncompleteError struct {
	Numbers []int
}

func (e *IncompleteError) Error() string {
	nums := make([]string, len(e.Numbers))
	for i, n := range e.Numbers {
		nums[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("%d questions unanswered: %s", len(e.Numbers), strings.Join(nums, ", "))
}

// Backend is the server the session talks to.
type Backend interface {
	ExamDetail(ctx context.Context, examID string) (*model.ExamDetail, error)
	// StartExam presents the access token. A wrong token must be reported as
	// ErrTokenRejected.
	StartExam(ctx context.Context, examID, token string) error
	RemainingTime(ctx context.Context, examID string) (*model.RemainingTime, error)
	PersistAnswer(ctx context.Context, examID, questionID string, qt model.QuestionType, v model.AnswerValue) error
	UploadPhoto(ctx context.Context, examID, filename string, r io.Reader) (string, error)
	// Submit must report a duplicate submission as ErrAlreadySubmitted.
	Submit(ctx context.Context, examID string, req model.SubmitRequest) (*model.SubmitResult, error)
}

// ConfirmFunc asks the student whether to submit although unsynced answers
// remain. ctx is cancelled when time runs out; the submission then goes ahead
// without an answer.
type ConfirmFunc func(ctx context.Context, unsynced int) bool

// Deps are the collaborators of a session.
type Deps struct {
	Backend   Backend
	Store     store.Store
	StudentID int
	Log       zerolog.Logger
}

// Options tunes session timing.
type Options struct {
	GracePeriod     time.Duration
	DrainTimeout    time.Duration
	AutoSubmitRetry time.Duration
	Queue           queue.Options
	Clock           clockwork.Clock
	Confirm         ConfirmFunc
}

func (o *Options) setDefaults() {
	if o.GracePeriod <= 0 {
		o.GracePeriod = 5 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 2 * time.Minute
	}
	if o.AutoSubmitRetry <= 0 {
		o.AutoSubmitRetry = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Queue.Clock == nil {
		o.Queue.Clock = o.Clock
	}
}

// Result describes a finished submission.
type Result struct {
	SubmittedAt      time.Time
	Answered         int
	AlreadySubmitted bool
}

// Session is one attempt. All timers it starts are owned by it and stopped by
// Close or when the attempt ends in Submitted or Expired.
type Session struct {
	examID string
	key    string
	deps   Deps
	opts   Options
	clk    clockwork.Clock
	log    zerolog.Logger

	resolver *ordering.Resolver
	queue    *queue.Queue

	mu        sync.Mutex
	state     State
	detail    *model.ExamDetail
	questions []model.QuestionForStudent
	index     map[string]int
	answers   map[string]model.AnswerValue
	modes     map[string]store.InputMode
	current   int
	deadline  time.Time
	loadedAt  time.Time
	result    *Result
	lastErr   error
	closed    bool

	tickStop   chan struct{}
	graceTimer clockwork.Timer
	retryTimer clockwork.Timer
}

// New creates a session in NotStarted.
func New(examID string, deps Deps, opts Options) *Session {
	opts.setDefaults()
	log := deps.Log.With().Str("component", "exam_session").Str("exam_id", examID).Logger()
	s := &Session{
		examID:   examID,
		key:      store.SessionKey(examID, deps.StudentID),
		deps:     deps,
		opts:     opts,
		clk:      opts.Clock,
		log:      log,
		resolver: ordering.NewResolver(deps.Store, nil, log),
		state:    StateNotStarted,
		answers:  make(map[string]model.AnswerValue),
		modes:    make(map[string]store.InputMode),
	}
	s.queue = queue.New(examPersister{examID: examID, b: deps.Backend}, opts.Queue, log)
	return s
}

type examPersister struct {
	examID string
	b      Backend
}

func (p examPersister) PersistAnswer(ctx context.Context, questionID string, qt model.QuestionType, v model.AnswerValue) error {
	return p.b.PersistAnswer(ctx, p.examID, questionID, qt, v)
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open fetches the exam. A started attempt resumes straight into InProgress;
// a submitted one lands in Submitted.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNotStarted || s.detail != nil {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.mu.Unlock()

	detail, err := s.deps.Backend.ExamDetail(ctx, s.examID)
	if err != nil {
		return fmt.Errorf("fetch exam: %w", err)
	}
	if len(detail.Questions) == 0 {
		return ErrNoQuestions
	}

	s.mu.Lock()
	s.detail = detail
	s.mu.Unlock()

	if detail.Attempt == nil {
		return nil
	}
	if detail.Attempt.SubmittedAt != nil {
		if err := s.clearLocal(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Failed to clear local state of submitted attempt")
		}
		s.mu.Lock()
		s.state = StateSubmitted
		s.result = &Result{SubmittedAt: *detail.Attempt.SubmittedAt, AlreadySubmitted: true}
		s.mu.Unlock()
		return nil
	}

	s.log.Info().Time("started_at", detail.Attempt.StartedAt).Msg("Resuming started attempt")
	return s.load(ctx)
}

// RequestStart moves to AwaitingToken.
func (s *Session) RequestStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotStarted || s.detail == nil {
		return ErrInvalidState
	}
	s.state = StateAwaitingToken
	return nil
}

// SubmitToken presents the access token. On ErrTokenRejected the session
// stays in AwaitingToken so the student can retry.
func (s *Session) SubmitToken(ctx context.Context, token string) error {
	if s.State() != StateAwaitingToken {
		return ErrInvalidState
	}
	if err := s.deps.Backend.StartExam(ctx, s.examID, strings.TrimSpace(token)); err != nil {
		if errors.Is(err, ErrTokenRejected) {
			s.log.Info().Msg("Access token rejected")
			return ErrTokenRejected
		}
		return fmt.Errorf("start exam: %w", err)
	}
	return s.load(ctx)
}

// load pins the question order, restores local answers and reads the server
// clock once, then enters InProgress behind the grace window.
func (s *Session) load(ctx context.Context) error {
	s.mu.Lock()
	detail := s.detail
	s.mu.Unlock()

	ordered, err := s.resolver.Resolve(ctx, s.key, detail.Questions, detail.RandomizeQuestions)
	if err != nil {
		return fmt.Errorf("resolve question order: %w", err)
	}
	local, err := s.deps.Store.Answers(ctx, s.key)
	if err != nil {
		return fmt.Errorf("restore answers: %w", err)
	}
	modes, err := s.deps.Store.InputModes(ctx, s.key)
	if err != nil {
		return fmt.Errorf("restore input modes: %w", err)
	}
	rt, err := s.deps.Backend.RemainingTime(ctx, s.examID)
	if err != nil {
		return fmt.Errorf("fetch remaining time: %w", err)
	}

	index := make(map[string]int, len(ordered))
	for i, q := range ordered {
		index[q.ID.String()] = i
	}

	answers := make(map[string]model.AnswerValue, len(local))
	for id, v := range detail.SavedAnswers {
		if _, ok := index[id]; ok {
			answers[id] = v
		}
	}
	var unsynced []string
	for id, v := range local {
		if _, ok := index[id]; !ok {
			continue
		}
		if saved, ok := detail.SavedAnswers[id]; !ok || saved != v {
			unsynced = append(unsynced, id)
		}
		answers[id] = v
	}

	remaining := rt.RemainingSeconds
	if rt.IsExpired || remaining < 0 {
		remaining = 0
	}

	s.mu.Lock()
	s.questions = ordered
	s.index = index
	s.answers = answers
	s.modes = modes
	s.current = 0
	s.loadedAt = s.clk.Now()
	s.deadline = s.loadedAt.Add(time.Duration(remaining) * time.Second)
	s.state = StateInProgress
	s.graceTimer = s.clk.AfterFunc(s.opts.GracePeriod, func() {
		_ = s.checkExpiry(context.Background())
	})
	if remaining > 0 {
		s.startCountdownLocked()
	}
	s.mu.Unlock()

	// Restored edits the server never acknowledged go out again.
	for _, id := range unsynced {
		q := ordered[index[id]]
		s.queue.Enqueue(id, q.QuestionType, answers[id])
	}

	s.log.Info().
		Int("remaining_seconds", remaining).
		Int("questions", len(ordered)).
		Int("restored_answers", len(answers)).
		Msg("Session in progress")
	return nil
}

func (s *Session) startCountdownLocked() {
	if s.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	s.tickStop = stop
	ticker := s.clk.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if err := s.Tick(context.Background()); err != nil {
					s.log.Error().Err(err).Msg("Automatic submission failed")
				}
			case <-stop:
				return
			}
		}
	}()
}

func (s *Session) stopTimersLocked() {
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// remainingLocked is the whole seconds left before the deadline, rounded up.
func (s *Session) remainingLocked() int {
	if s.deadline.IsZero() {
		return 0
	}
	left := s.deadline.Sub(s.clk.Now())
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// Tick reads the countdown and runs the expiry check once it reaches zero.
// Time keeps running while a submission is in flight, but only an
// InProgress session acts on expiry.
func (s *Session) Tick(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || (s.state != StateInProgress && s.state != StateSubmitting) {
		s.mu.Unlock()
		return nil
	}
	expired := s.remainingLocked() == 0
	if expired && s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
	act := expired && s.state == StateInProgress
	s.mu.Unlock()

	if !act {
		return nil
	}
	return s.checkExpiry(ctx)
}

// checkExpiry submits automatically once time is up, unless the session was
// loaded within the grace window or holds no answers at all.
func (s *Session) checkExpiry(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.state != StateInProgress || s.remainingLocked() > 0 {
		s.mu.Unlock()
		return nil
	}
	if s.clk.Since(s.loadedAt) < s.opts.GracePeriod {
		s.mu.Unlock()
		return nil
	}
	if model.Answered(s.answers) == 0 {
		s.state = StateExpired
		s.stopTimersLocked()
		s.mu.Unlock()
		s.queue.Close()
		s.log.Info().Msg("Time expired with no answers, nothing submitted")
		return nil
	}
	s.state = StateSubmitting
	s.mu.Unlock()

	s.log.Info().Msg("Time expired, submitting automatically")
	_, err := s.finalize(ctx, true)
	return err
}

func (s *Session) question(id string) (model.QuestionForStudent, error) {
	i, ok := s.index[id]
	if !ok {
		return model.QuestionForStudent{}, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
	}
	return s.questions[i], nil
}

// record validates v, writes it to the local store and to memory. The store
// write comes first so a crash right after never loses the edit.
func (s *Session) record(ctx context.Context, questionID string, want model.QuestionType, v func(prev model.AnswerValue, mode store.InputMode) model.AnswerValue) (model.QuestionForStudent, model.AnswerValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInProgress {
		return model.QuestionForStudent{}, model.AnswerValue{}, ErrNotInProgress
	}
	q, err := s.question(questionID)
	if err != nil {
		return q, model.AnswerValue{}, err
	}
	if q.QuestionType != want {
		return q, model.AnswerValue{}, fmt.Errorf("%w: question %s is %s", model.ErrInvalidAnswer, questionID, q.QuestionType)
	}
	next := v(s.answers[questionID], s.modes[questionID])
	if err := next.Validate(q.QuestionType); err != nil {
		return q, next, err
	}
	if err := s.deps.Store.SaveAnswer(ctx, s.key, questionID, next); err != nil {
		return q, next, fmt.Errorf("save answer locally: %w", err)
	}
	s.answers[questionID] = next
	return q, next, nil
}

// SelectChoice records a multiple-choice answer and syncs it immediately.
func (s *Session) SelectChoice(ctx context.Context, questionID, option string) error {
	_, v, err := s.record(ctx, questionID, model.QuestionTypeMultipleChoice, func(model.AnswerValue, store.InputMode) model.AnswerValue {
		return model.Choice(strings.ToUpper(strings.TrimSpace(option)))
	})
	if err != nil {
		return err
	}
	s.queue.Choice(questionID, v)
	return nil
}

// TypeEssay records essay text. When the answer already carries a photo the
// text becomes its note; the photo stays until RemovePhoto.
func (s *Session) TypeEssay(ctx context.Context, questionID, text string) error {
	v, err := s.recordEssay(ctx, questionID, text)
	if err != nil {
		return err
	}
	s.queue.Type(questionID, v)
	return nil
}

// PasteEssay is TypeEssay for pasted content, which syncs sooner.
func (s *Session) PasteEssay(ctx context.Context, questionID, text string) error {
	v, err := s.recordEssay(ctx, questionID, text)
	if err != nil {
		return err
	}
	s.queue.Paste(questionID, v)
	return nil
}

func (s *Session) recordEssay(ctx context.Context, questionID, text string) (model.AnswerValue, error) {
	_, v, err := s.record(ctx, questionID, model.QuestionTypeEssay, func(prev model.AnswerValue, _ store.InputMode) model.AnswerValue {
		if prev.Kind == model.AnswerKindPhoto {
			return model.Photo(prev.URL, text)
		}
		return model.Text(text)
	})
	return v, err
}

// AttachPhoto uploads an image and makes it the essay's primary answer. Any
// text already typed is kept as the photo's note. Upload failures leave the
// text answer untouched and wrap ErrPhotoUnavailable.
func (s *Session) AttachPhoto(ctx context.Context, questionID, filename string, r io.Reader) error {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return ErrNotInProgress
	}
	q, err := s.question(questionID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if q.QuestionType != model.QuestionTypeEssay {
		return fmt.Errorf("%w: photos only answer essay questions", model.ErrInvalidAnswer)
	}

	url, err := s.deps.Backend.UploadPhoto(ctx, s.examID, filename, r)
	if err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID).Msg("Photo upload failed")
		return fmt.Errorf("%w: %v", ErrPhotoUnavailable, err)
	}

	_, v, err := s.record(ctx, questionID, model.QuestionTypeEssay, func(prev model.AnswerValue, _ store.InputMode) model.AnswerValue {
		note := prev.Value
		if prev.Kind == model.AnswerKindPhoto {
			note = prev.Note
		}
		return model.Photo(url, note)
	})
	if err != nil {
		return err
	}
	if err := s.SetInputMode(ctx, questionID, store.InputModePhoto); err != nil {
		return err
	}
	s.queue.Enqueue(questionID, model.QuestionTypeEssay, v)
	return nil
}

// RemovePhoto drops the photo from an essay answer and keeps its note as the
// typed answer. The question switches back to text mode.
func (s *Session) RemovePhoto(ctx context.Context, questionID string) error {
	_, v, err := s.record(ctx, questionID, model.QuestionTypeEssay, func(prev model.AnswerValue, _ store.InputMode) model.AnswerValue {
		if prev.Kind == model.AnswerKindPhoto {
			return model.Text(prev.Note)
		}
		return model.Text(prev.Value)
	})
	if err != nil {
		return err
	}
	s.queue.Enqueue(questionID, model.QuestionTypeEssay, v)
	return s.SetInputMode(ctx, questionID, store.InputModeText)
}

// SetInputMode switches which input an essay offers. The stored answer is
// left as is.
func (s *Session) SetInputMode(ctx context.Context, questionID string, mode store.InputMode) error {
	if mode != store.InputModeText && mode != store.InputModePhoto {
		return fmt.Errorf("unknown input mode %q", mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return ErrNotInProgress
	}
	q, err := s.question(questionID)
	if err != nil {
		return err
	}
	if q.QuestionType != model.QuestionTypeEssay {
		return fmt.Errorf("%w: input mode applies to essay questions", model.ErrInvalidAnswer)
	}
	if err := s.deps.Store.SaveInputMode(ctx, s.key, questionID, mode); err != nil {
		return fmt.Errorf("save input mode: %w", err)
	}
	s.modes[questionID] = mode
	return nil
}

// Goto moves to the question at the 0-based position in display order.
func (s *Session) Goto(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.questions) {
		return fmt.Errorf("question %d out of range", i+1)
	}
	s.current = i
	return nil
}

// CheckComplete returns an *IncompleteError naming every unanswered question
// and moves to the first of them.
func (s *Session) CheckComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkCompleteLocked()
}

func (s *Session) checkCompleteLocked() error {
	var missing []int
	for i, q := range s.questions {
		if s.answers[q.ID.String()].IsEmpty() {
			missing = append(missing, i+1)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	s.current = missing[0] - 1
	return &IncompleteError{Numbers: missing}
}

// Submit is the manual submission. Every question must be answered. A
// session that is already Submitted returns its result again without
// contacting the server.
func (s *Session) Submit(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	switch s.state {
	case StateSubmitted:
		res := *s.result
		res.AlreadySubmitted = true
		s.mu.Unlock()
		return &res, nil
	case StateInProgress:
	default:
		s.mu.Unlock()
		return nil, ErrNotInProgress
	}
	if err := s.checkCompleteLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateSubmitting
	s.mu.Unlock()

	return s.finalize(ctx, false)
}

// Close stops every timer the session owns. Local answers stay on disk.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopTimersLocked()
	s.mu.Unlock()
	s.queue.Close()
}
