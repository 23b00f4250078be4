package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
)

// ExamSession represents a student's exam attempt.
type ExamSession struct {
	ID                uuid.UUID     `json:"id"`
	ExamID            uuid.UUID     `json:"exam_id"`
	StudentID         int           `json:"student_id"`
	StartedAt         time.Time     `json:"started_at"`
	SubmittedAt       *time.Time    `json:"submitted_at,omitempty"`
	ClientSubmittedAt *time.Time    `json:"client_submitted_at,omitempty"`
	Checksum          *string       `json:"checksum,omitempty"`
	Status            SessionStatus `json:"status"`
}

// Info projects the session onto the timestamps a student client sees.
func (s *ExamSession) Info() *AttemptInfo {
	return &AttemptInfo{StartedAt: s.StartedAt, SubmittedAt: s.SubmittedAt}
}

// StartExamRequest is the payload for passing the start gate.
type StartExamRequest struct {
	Token string `json:"token" binding:"required,access_token"`
}

// SaveAnswerRequest is the payload for persisting a single answer.
type SaveAnswerRequest struct {
	QuestionType QuestionType `json:"question_type" binding:"required,oneof=MULTIPLE_CHOICE ESSAY"`
	Answer       AnswerValue  `json:"answer"`
}

// SubmitRequest is the payload for the one-shot final submission.
type SubmitRequest struct {
	Answers         map[string]AnswerValue `json:"answers"`
	Checksum        string                 `json:"checksum" binding:"required,len=64,hexadecimal"`
	ClientTimestamp time.Time              `json:"client_timestamp" binding:"required"`
}

// SubmitResult acknowledges a submission.
type SubmitResult struct {
	ExamID      uuid.UUID `json:"exam_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Answered    int       `json:"answered"`
}
