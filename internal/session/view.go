package session

import (
	"encoding/json"

	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/queue"
	"github.com/stemsi/exstem-portal/internal/store"
)

// QuestionView is one question as the student sees it.
type QuestionView struct {
	Number  int                  `json:"number"`
	ID      string               `json:"id"`
	Type    model.QuestionType   `json:"type"`
	Text    string               `json:"text"`
	Options json.RawMessage      `json:"options,omitempty"`
	Answer  model.AnswerValue    `json:"answer"`
	Mode    store.InputMode      `json:"mode,omitempty"`
	Sync    queue.QuestionStatus `json:"sync,omitempty"`
}

// View is a point-in-time snapshot for rendering.
type View struct {
	State            State          `json:"state"`
	ExamID           string         `json:"exam_id"`
	Title            string         `json:"title"`
	RemainingSeconds int            `json:"remaining_seconds"`
	Current          int            `json:"current"`
	Answered         int            `json:"answered"`
	Questions        []QuestionView `json:"questions"`
	Sync             queue.Counts   `json:"sync"`
	Result           *Result        `json:"result,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
}

// View snapshots the session.
func (s *Session) View() View {
	counts := s.queue.Counts()

	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		State:            s.state,
		ExamID:           s.examID,
		RemainingSeconds: s.remainingLocked(),
		Current:          s.current,
		Answered:         model.Answered(s.answers),
		Sync:             counts,
	}
	if s.detail != nil {
		v.Title = s.detail.Title
	}
	if s.result != nil {
		r := *s.result
		v.Result = &r
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}

	v.Questions = make([]QuestionView, len(s.questions))
	for i, q := range s.questions {
		id := q.ID.String()
		v.Questions[i] = QuestionView{
			Number:  i + 1,
			ID:      id,
			Type:    q.QuestionType,
			Text:    q.QuestionText,
			Options: q.Options,
			Answer:  s.answers[id],
			Mode:    s.modes[id],
			Sync:    s.queue.Status(id),
		}
	}
	return v
}
