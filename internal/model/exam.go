package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents an exam entity.
type Exam struct {
	ID                 uuid.UUID  `json:"id"`
	Title              string     `json:"title"`
	ScheduledStart     *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd       *time.Time `json:"scheduled_end,omitempty"`
	DurationMinutes    int        `json:"duration_minutes"`
	RandomizeQuestions bool       `json:"randomize_questions"`
	ShowScore          bool       `json:"show_score"`
	Status             ExamStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// OpenAt reports whether the exam window admits a new start at t.
func (e *Exam) OpenAt(t time.Time) bool {
	if e.ScheduledStart != nil && t.Before(*e.ScheduledStart) {
		return false
	}
	if e.ScheduledEnd != nil && !t.Before(*e.ScheduledEnd) {
		return false
	}
	return true
}

// ExamPayload is the Redis-cached payload sent to students (no correct answers).
type ExamPayload struct {
	ExamID             uuid.UUID            `json:"exam_id"`
	Title              string               `json:"title"`
	Duration           int                  `json:"duration_minutes"`
	ScheduledStart     *time.Time           `json:"scheduled_start,omitempty"`
	ScheduledEnd       *time.Time           `json:"scheduled_end,omitempty"`
	RandomizeQuestions bool                 `json:"randomize_questions"`
	ShowScore          bool                 `json:"show_score"`
	Questions          []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	QuestionText string          `json:"question_text"`
	QuestionType QuestionType    `json:"question_type"`
	Options      json.RawMessage `json:"options,omitempty"`
	OrderNum     int             `json:"order_num"`
}

// ExamDetail is what a student receives when opening an exam: the cached
// payload plus the state of their own attempt, if any.
type ExamDetail struct {
	ExamPayload
	Attempt      *AttemptInfo           `json:"attempt,omitempty"`
	SavedAnswers map[string]AnswerValue `json:"saved_answers,omitempty"`
}

// AttemptInfo carries the server-owned timestamps of an attempt.
type AttemptInfo struct {
	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// RemainingTime is the authoritative clock reading for one attempt.
type RemainingTime struct {
	RemainingSeconds int       `json:"remaining_seconds"`
	IsExpired        bool      `json:"is_expired"`
	StartedAt        time.Time `json:"started_at"`
	EndsAt           time.Time `json:"ends_at"`
}
