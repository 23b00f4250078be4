package websocket

import (
	"time"

	"github.com/stemsi/exstem-portal/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is every client message; fields not used by the action are
// left empty.
type RequestPayload struct {
	Action          Action                       `json:"action"`
	QID             string                       `json:"q_id,omitempty"`
	QuestionType    model.QuestionType           `json:"question_type,omitempty"`
	Answer          model.AnswerValue            `json:"answer"`
	Answers         map[string]model.AnswerValue `json:"answers,omitempty"`
	Checksum        string                       `json:"checksum,omitempty"`
	ClientTimestamp time.Time                    `json:"client_timestamp"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

type SubmittedResponse struct {
	Event            Event              `json:"event"`
	Result           model.SubmitResult `json:"result"`
	AlreadySubmitted bool               `json:"already_submitted"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event     `json:"event"`
	Time  time.Time `json:"time"`
}
