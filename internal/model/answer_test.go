package model

import (
	"errors"
	"testing"
)

func TestAnswerValueIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		v    AnswerValue
		want bool
	}{
		{"zero value", AnswerValue{}, true},
		{"blank choice", Choice(" "), true},
		{"choice", Choice("C"), false},
		{"blank text", Text("\n\t"), true},
		{"text", Text("mitochondria"), false},
		{"photo without url", Photo("", "note only"), true},
		{"photo", Photo("/uploads/a.png", ""), false},
		{"unknown kind", AnswerValue{Kind: "audio", Value: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnswerValueValidate(t *testing.T) {
	tests := []struct {
		name    string
		v       AnswerValue
		qt      QuestionType
		wantErr bool
	}{
		{"choice for mc", Choice("A"), QuestionTypeMultipleChoice, false},
		{"text for mc", Text("A"), QuestionTypeMultipleChoice, true},
		{"text for essay", Text("answer"), QuestionTypeEssay, false},
		{"photo for essay", Photo("/uploads/a.jpg", "caption"), QuestionTypeEssay, false},
		{"choice for essay", Choice("A"), QuestionTypeEssay, true},
		{"text smuggling url", AnswerValue{Kind: AnswerKindText, Value: "a", URL: "/x"}, QuestionTypeEssay, true},
		{"unknown type", Choice("A"), QuestionType("MATCHING"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate(tt.qt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAnswer) {
				t.Fatalf("Validate() error = %v, want ErrInvalidAnswer", err)
			}
		})
	}
}

func TestAnswered(t *testing.T) {
	m := map[string]AnswerValue{"a": Choice("A"), "b": Text(""), "c": Photo("/u.png", "")}
	if got := Answered(m); got != 2 {
		t.Fatalf("Answered() = %d, want 2", got)
	}
}
