package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-portal/internal/model"
)

func TestBuildPayloadStripsAnswerKey(t *testing.T) {
	start := time.Date(2025, 5, 12, 7, 0, 0, 0, time.UTC)
	exam := &model.Exam{
		ID:                 uuid.New(),
		Title:              "Kimia Dasar",
		DurationMinutes:    90,
		ScheduledStart:     &start,
		RandomizeQuestions: true,
	}
	questions := []model.Question{
		{ID: uuid.New(), ExamID: exam.ID, QuestionText: "H2O adalah?", QuestionType: model.QuestionTypeMultipleChoice,
			Options: json.RawMessage(`{"A":"air","B":"garam"}`), CorrectOption: "A", OrderNum: 1},
		{ID: uuid.New(), ExamID: exam.ID, QuestionText: "Jelaskan ikatan kovalen.", QuestionType: model.QuestionTypeEssay, OrderNum: 2},
	}

	p, err := BuildPayload(exam, questions)
	if err != nil {
		t.Fatal(err)
	}
	if p.Duration != 90 || !p.RandomizeQuestions || p.ScheduledStart == nil {
		t.Errorf("payload = %+v", p)
	}
	if len(p.Questions) != 2 {
		t.Fatalf("questions = %d", len(p.Questions))
	}
	for i, q := range p.Questions {
		if q.ID != questions[i].ID || q.QuestionType != questions[i].QuestionType || q.OrderNum != questions[i].OrderNum {
			t.Errorf("question %d = %+v", i, q)
		}
	}
	if string(p.Questions[0].Options) != `{"A":"air","B":"garam"}` {
		t.Errorf("options = %s", p.Questions[0].Options)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	_ = json.Unmarshal(raw, &generic)
	for _, q := range generic["questions"].([]any) {
		if _, leaked := q.(map[string]any)["correct_option"]; leaked {
			t.Fatal("correct option leaked into student payload")
		}
	}
}
