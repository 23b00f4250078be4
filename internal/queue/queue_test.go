package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
)

type call struct {
	questionID string
	value      model.AnswerValue
}

// fakePersister records calls. When gate is non-nil every call blocks until a
// value is received from it; fail makes calls return an error.
type fakePersister struct {
	mu      sync.Mutex
	calls   []call
	fail    bool
	gate    chan struct{}
	started chan string
}

func (p *fakePersister) PersistAnswer(ctx context.Context, questionID string, _ model.QuestionType, v model.AnswerValue) error {
	p.mu.Lock()
	p.calls = append(p.calls, call{questionID, v})
	gate, fail, started := p.gate, p.fail, p.started
	p.mu.Unlock()

	if started != nil {
		started <- questionID
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("network down")
	}
	return nil
}

func (p *fakePersister) setFail(b bool) {
	p.mu.Lock()
	p.fail = b
	p.mu.Unlock()
}

func (p *fakePersister) snapshot() []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call(nil), p.calls...)
}

func newQueue(t *testing.T, p Persister) (*Queue, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC))
	q := New(p, Options{Clock: clk}, zerolog.Nop())
	t.Cleanup(q.Close)
	return q, clk
}

// waitFor polls cond; fake clock callbacks run on their own goroutines.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func drain(t *testing.T, q *Queue) Counts {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	return c
}

func TestChoiceSyncsImmediately(t *testing.T) {
	p := &fakePersister{}
	q, _ := newQueue(t, p)

	q.Choice("q1", model.Choice("B"))
	c := drain(t, q)

	if c.Saved != 1 || c.Unsynced() != 0 {
		t.Fatalf("counts = %+v", c)
	}
	calls := p.snapshot()
	if len(calls) != 1 || calls[0].value != model.Choice("B") {
		t.Fatalf("calls = %+v", calls)
	}
	if got := q.Status("q1"); got != QuestionSaved {
		t.Errorf("status = %q", got)
	}
}

func TestNewerEditSupersedesInFlight(t *testing.T) {
	p := &fakePersister{gate: make(chan struct{}), started: make(chan string, 4)}
	q, _ := newQueue(t, p)

	q.Choice("q1", model.Choice("A"))
	<-p.started

	// Both edits land while A is in flight; only the last one is sent next.
	q.Choice("q1", model.Choice("B"))
	q.Choice("q1", model.Choice("C"))

	if n := len(p.snapshot()); n != 1 {
		t.Fatalf("second request started while first in flight: %d calls", n)
	}

	p.gate <- struct{}{} // release A
	<-p.started          // C starts
	p.gate <- struct{}{} // release C

	c := drain(t, q)
	if c.Saved != 1 || c.Unsynced() != 0 {
		t.Fatalf("counts = %+v", c)
	}

	calls := p.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].value != model.Choice("A") || calls[1].value != model.Choice("C") {
		t.Errorf("sent %v then %v, want A then C", calls[0].value, calls[1].value)
	}
	entries := q.Entries()
	if len(entries) != 1 || entries[0].Value != model.Choice("C") {
		t.Errorf("entries = %+v", entries)
	}
}

func TestEssayDebounce(t *testing.T) {
	p := &fakePersister{}
	q, clk := newQueue(t, p)

	q.Type("q2", model.Text("h"))
	clk.Advance(time.Second)
	q.Type("q2", model.Text("he"))
	clk.Advance(time.Second)
	q.Type("q2", model.Text("hello"))

	if got := q.Status("q2"); got != QuestionTyping {
		t.Fatalf("status = %q, want typing", got)
	}
	if n := len(p.snapshot()); n != 0 {
		t.Fatalf("sent %d requests before idle", n)
	}

	clk.Advance(2 * time.Second)
	drain(t, q)

	calls := p.snapshot()
	if len(calls) != 1 || calls[0].value != model.Text("hello") {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestPasteUsesShorterDelay(t *testing.T) {
	p := &fakePersister{}
	q, clk := newQueue(t, p)

	q.Paste("q3", model.Text("pasted paragraph"))
	clk.Advance(499 * time.Millisecond)
	if got := q.Status("q3"); got != QuestionTyping {
		t.Fatalf("status before paste delay = %q", got)
	}

	clk.Advance(time.Millisecond)
	waitFor(t, "paste to leave debounce", func() bool { return q.Status("q3") != QuestionTyping })
	drain(t, q)
	if calls := p.snapshot(); len(calls) != 1 {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestDrainFlushesDraftsAndRetriesFailures(t *testing.T) {
	p := &fakePersister{fail: true}
	q, _ := newQueue(t, p)

	q.Choice("q1", model.Choice("D"))
	c := drain(t, q)
	if c.Failed != 1 {
		t.Fatalf("counts after failing sync = %+v", c)
	}
	if got := q.Status("q1"); got != QuestionError {
		t.Errorf("status = %q, want error", got)
	}

	q.Type("q2", model.Text("draft"))
	p.setFail(false)

	c = drain(t, q)
	if c.Saved != 2 || c.Unsynced() != 0 {
		t.Fatalf("counts after retry = %+v", c)
	}
	if got := q.Status("q2"); got != QuestionSaved {
		t.Errorf("draft status = %q", got)
	}
}

func TestDrainHonoursContext(t *testing.T) {
	p := &fakePersister{gate: make(chan struct{})}
	q, _ := newQueue(t, p)

	q.Choice("q1", model.Choice("A"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c, err := q.Drain(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if c.Unsynced() != 1 {
		t.Errorf("counts = %+v", c)
	}
}

func TestCloseStopsTimers(t *testing.T) {
	p := &fakePersister{}
	clk := clockwork.NewFakeClock()
	q := New(p, Options{Clock: clk}, zerolog.Nop())

	q.Type("q1", model.Text("late"))
	q.Close()

	q.mu.Lock()
	n := len(q.drafts)
	q.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d drafts still armed after close", n)
	}
	clk.Advance(time.Minute)
	q.Choice("q2", model.Choice("A"))

	if calls := p.snapshot(); len(calls) != 0 {
		t.Fatalf("calls after close = %+v", calls)
	}
}

func TestClearForgetsEntries(t *testing.T) {
	p := &fakePersister{}
	q, clk := newQueue(t, p)

	q.Choice("q1", model.Choice("A"))
	q.Type("q2", model.Text("x"))
	drain(t, q)
	q.Type("q3", model.Text("y"))

	q.Clear()
	clk.Advance(time.Minute)

	if c := q.Counts(); c != (Counts{}) {
		t.Fatalf("counts = %+v", c)
	}
	if len(q.Entries()) != 0 {
		t.Fatal("entries survived clear")
	}
}
