// Package queue pushes local answer edits to the server in the background.
//
// The queue holds at most one entry per question and at most one request in
// flight per question. A newer edit replaces the queued value in place; when
// an older request completes after a newer edit arrived, the newer value is
// sent next and the older result is discarded. Failed entries wait for the
// next Drain instead of retrying on their own.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
)

// EntryStatus is the sync state of a queued write.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSaving  EntryStatus = "saving"
	StatusSaved   EntryStatus = "saved"
	StatusFailed  EntryStatus = "failed"
)

// QuestionStatus is the inline indicator for one question.
type QuestionStatus string

const (
	QuestionIdle   QuestionStatus = ""
	QuestionTyping QuestionStatus = "typing"
	QuestionSaving QuestionStatus = "saving"
	QuestionSaved  QuestionStatus = "saved"
	QuestionError  QuestionStatus = "error"
)

// Persister performs the idempotent single-answer upsert.
type Persister interface {
	PersistAnswer(ctx context.Context, questionID string, qt model.QuestionType, v model.AnswerValue) error
}

// Options tunes queue timing.
type Options struct {
	EssayDebounce  time.Duration
	PasteDelay     time.Duration
	RequestTimeout time.Duration
	Clock          clockwork.Clock
}

func (o *Options) setDefaults() {
	if o.EssayDebounce <= 0 {
		o.EssayDebounce = 2 * time.Second
	}
	if o.PasteDelay <= 0 {
		o.PasteDelay = 500 * time.Millisecond
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// Entry is one question's pending write.
type Entry struct {
	QuestionID   string
	QuestionType model.QuestionType
	Value        model.AnswerValue
	Status       EntryStatus
	Attempts     int
	LastError    error

	version uint64
}

// Counts aggregates entry states for the live indicator.
type Counts struct {
	Pending int `json:"pending"`
	Saving  int `json:"saving"`
	Saved   int `json:"saved"`
	Failed  int `json:"failed"`
}

// Unsynced is the number of entries the server has not acknowledged.
func (c Counts) Unsynced() int { return c.Pending + c.Saving + c.Failed }

type draft struct {
	value model.AnswerValue
	timer clockwork.Timer
}

// Queue is the per-session sync queue. Create one per session; Close it when
// the session ends.
type Queue struct {
	persister Persister
	opts      Options
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	entries  map[string]*Entry
	inflight map[string]bool
	drafts   map[string]*draft
	changed  chan struct{}
	closed   bool
}

// New creates a queue that writes through p.
func New(p Persister, opts Options, log zerolog.Logger) *Queue {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		persister: p,
		opts:      opts,
		log:       log.With().Str("component", "sync_queue").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*Entry),
		inflight:  make(map[string]bool),
		drafts:    make(map[string]*draft),
		changed:   make(chan struct{}),
	}
}

// Choice enqueues a multiple-choice selection and syncs it immediately.
func (q *Queue) Choice(questionID string, v model.AnswerValue) {
	q.Enqueue(questionID, model.QuestionTypeMultipleChoice, v)
}

// Enqueue queues v for immediate sync, superseding any queued or drafted
// value for the same question.
func (q *Queue) Enqueue(questionID string, qt model.QuestionType, v model.AnswerValue) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.dropDraftLocked(questionID)
	q.enqueueLocked(questionID, qt, v)
	q.mu.Unlock()

	q.kick(questionID)
}

// Type records an essay keystroke. The value is enqueued once the question has
// been idle for the debounce interval.
func (q *Queue) Type(questionID string, v model.AnswerValue) {
	q.schedule(questionID, v, q.opts.EssayDebounce)
}

// Paste records pasted essay content, enqueued after the shorter paste delay.
func (q *Queue) Paste(questionID string, v model.AnswerValue) {
	q.schedule(questionID, v, q.opts.PasteDelay)
}

func (q *Queue) schedule(questionID string, v model.AnswerValue, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	q.dropDraftLocked(questionID)
	d := &draft{value: v}
	d.timer = q.opts.Clock.AfterFunc(delay, func() { q.flushDraft(questionID, d) })
	q.drafts[questionID] = d
	q.notifyLocked()
}

func (q *Queue) flushDraft(questionID string, d *draft) {
	q.mu.Lock()
	if q.closed || q.drafts[questionID] != d {
		q.mu.Unlock()
		return
	}
	delete(q.drafts, questionID)
	q.enqueueLocked(questionID, model.QuestionTypeEssay, d.value)
	q.mu.Unlock()

	q.kick(questionID)
}

func (q *Queue) dropDraftLocked(questionID string) {
	if d, ok := q.drafts[questionID]; ok {
		d.timer.Stop()
		delete(q.drafts, questionID)
	}
}

func (q *Queue) enqueueLocked(questionID string, qt model.QuestionType, v model.AnswerValue) {
	e, ok := q.entries[questionID]
	if !ok {
		e = &Entry{QuestionID: questionID}
		q.entries[questionID] = e
	}
	e.QuestionType = qt
	e.Value = v
	e.Status = StatusPending
	e.Attempts = 0
	e.LastError = nil
	e.version++
	q.notifyLocked()
}

// kick starts a request for questionID unless one is already in flight.
func (q *Queue) kick(questionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.inflight[questionID] {
		return
	}
	e, ok := q.entries[questionID]
	if !ok || e.Status != StatusPending {
		return
	}

	q.inflight[questionID] = true
	e.Status = StatusSaving
	e.Attempts++
	q.notifyLocked()

	q.wg.Add(1)
	go q.send(questionID, e.QuestionType, e.Value, e.version)
}

func (q *Queue) send(questionID string, qt model.QuestionType, v model.AnswerValue, version uint64) {
	defer q.wg.Done()

	ctx, cancel := context.WithTimeout(q.ctx, q.opts.RequestTimeout)
	err := q.persister.PersistAnswer(ctx, questionID, qt, v)
	cancel()

	q.mu.Lock()
	delete(q.inflight, questionID)
	e, ok := q.entries[questionID]
	resend := false
	switch {
	case !ok:
		// Cleared while in flight.
	case e.version != version:
		// A newer edit arrived; its value goes next, this result is stale.
		resend = true
	case err != nil:
		e.Status = StatusFailed
		e.LastError = err
		q.log.Warn().Err(err).
			Str("question_id", questionID).
			Int("attempts", e.Attempts).
			Msg("Answer sync failed, waiting for drain")
	default:
		e.Status = StatusSaved
	}
	q.notifyLocked()
	q.mu.Unlock()

	if resend {
		q.kick(questionID)
	}
}

// Drain enqueues every drafted essay, retries failed entries once, and waits
// until nothing is pending or saving, or ctx ends. It returns the counts at
// that moment; Unsynced() > 0 means some answers did not reach the server.
func (q *Queue) Drain(ctx context.Context) (Counts, error) {
	q.mu.Lock()
	for qid, d := range q.drafts {
		d.timer.Stop()
		delete(q.drafts, qid)
		q.enqueueLocked(qid, model.QuestionTypeEssay, d.value)
	}
	var retry []string
	for qid, e := range q.entries {
		if e.Status == StatusFailed {
			e.Status = StatusPending
		}
		if e.Status == StatusPending {
			retry = append(retry, qid)
		}
	}
	q.mu.Unlock()

	for _, qid := range retry {
		q.kick(qid)
	}

	for {
		q.mu.Lock()
		c := q.countsLocked()
		ch := q.changed
		q.mu.Unlock()

		if c.Pending == 0 && c.Saving == 0 {
			return c, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return c, ctx.Err()
		}
	}
}

// Counts returns the aggregate indicator.
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countsLocked()
}

func (q *Queue) countsLocked() Counts {
	var c Counts
	for _, e := range q.entries {
		switch e.Status {
		case StatusPending:
			c.Pending++
		case StatusSaving:
			c.Saving++
		case StatusSaved:
			c.Saved++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Status returns the inline indicator for one question.
func (q *Queue) Status(questionID string) QuestionStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.drafts[questionID]; ok {
		return QuestionTyping
	}
	e, ok := q.entries[questionID]
	if !ok {
		return QuestionIdle
	}
	switch e.Status {
	case StatusSaved:
		return QuestionSaved
	case StatusFailed:
		return QuestionError
	default:
		return QuestionSaving
	}
}

// Entries returns a copy of every queued entry.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}

// Changed returns a channel closed on the next state change.
func (q *Queue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

// Clear forgets every entry and draft. Requests already in flight finish but
// their results are ignored.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for qid := range q.drafts {
		q.dropDraftLocked(qid)
	}
	q.entries = make(map[string]*Entry)
	q.notifyLocked()
}

// Close stops every debounce timer, cancels in-flight requests and waits for
// them to return. Edits after Close are ignored.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for qid := range q.drafts {
		q.dropDraftLocked(qid)
	}
	q.notifyLocked()
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
