// Package store is the device-local answer cache. Every answer edit lands here
// before it is queued for the server, so a crash or reload never loses it.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/stemsi/exstem-portal/internal/model"
)

// InputMode is how an essay question is being answered on this device.
type InputMode string

const (
	InputModeText  InputMode = "text"
	InputModePhoto InputMode = "photo"
)

var ErrInvalidKey = errors.New("store: empty session key")

// Store persists one session's in-progress state, keyed by session key.
type Store interface {
	SaveAnswer(ctx context.Context, key, questionID string, v model.AnswerValue) error
	Answers(ctx context.Context, key string) (map[string]model.AnswerValue, error)
	SaveInputMode(ctx context.Context, key, questionID string, mode InputMode) error
	InputModes(ctx context.Context, key string) (map[string]InputMode, error)
	SaveQuestionOrder(ctx context.Context, key string, ids []string) error
	// QuestionOrder returns the pinned order and whether one exists.
	QuestionOrder(ctx context.Context, key string) ([]string, bool, error)
	ClearQuestionOrder(ctx context.Context, key string) error
	// Clear drops everything held for the session.
	Clear(ctx context.Context, key string) error
}

// SessionKey identifies one student's attempt at one exam.
func SessionKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s", studentID, examID)
}
