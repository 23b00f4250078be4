package model

import (
	"errors"
	"strings"
)

// AnswerKind tags the shape of an AnswerValue.
type AnswerKind string

const (
	AnswerKindChoice AnswerKind = "choice"
	AnswerKindText   AnswerKind = "text"
	AnswerKindPhoto  AnswerKind = "photo"
)

var ErrInvalidAnswer = errors.New("invalid answer value")

// AnswerValue is one question's answer. A choice carries the option letter in
// Value, a text answer carries the essay in Value, a photo answer carries the
// uploaded image URL with an optional text Note beside it.
type AnswerValue struct {
	Kind  AnswerKind `json:"kind"`
	Value string     `json:"value,omitempty"`
	URL   string     `json:"url,omitempty"`
	Note  string     `json:"note,omitempty"`
}

func Choice(letter string) AnswerValue { return AnswerValue{Kind: AnswerKindChoice, Value: letter} }

func Text(s string) AnswerValue { return AnswerValue{Kind: AnswerKindText, Value: s} }

func Photo(url, note string) AnswerValue {
	return AnswerValue{Kind: AnswerKindPhoto, URL: url, Note: note}
}

// IsEmpty reports whether the answer counts as unanswered.
func (a AnswerValue) IsEmpty() bool {
	switch a.Kind {
	case AnswerKindPhoto:
		return strings.TrimSpace(a.URL) == ""
	case AnswerKindChoice, AnswerKindText:
		return strings.TrimSpace(a.Value) == ""
	default:
		return true
	}
}

// Validate checks the value against the question type it answers.
func (a AnswerValue) Validate(t QuestionType) error {
	switch t {
	case QuestionTypeMultipleChoice:
		if a.Kind != AnswerKindChoice || len(a.Value) > 10 {
			return ErrInvalidAnswer
		}
	case QuestionTypeEssay:
		if a.Kind != AnswerKindText && a.Kind != AnswerKindPhoto {
			return ErrInvalidAnswer
		}
		if a.Kind == AnswerKindText && a.URL != "" {
			return ErrInvalidAnswer
		}
	default:
		return ErrInvalidAnswer
	}
	return nil
}

// Answered counts the non-empty answers in m.
func Answered(m map[string]AnswerValue) int {
	n := 0
	for _, v := range m {
		if !v.IsEmpty() {
			n++
		}
	}
	return n
}

// PersistAnswerMessage is one entry of the Redis persist queue, written by
// the answer endpoint and consumed by the autosave worker.
type PersistAnswerMessage struct {
	StudentID int         `json:"student_id"`
	ExamID    string      `json:"exam_id"`
	QID       string      `json:"q_id"`
	Answer    AnswerValue `json:"answer"`
}
