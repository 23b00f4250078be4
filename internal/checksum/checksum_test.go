package checksum

import (
	"testing"

	"github.com/stemsi/exstem-portal/internal/model"
)

func TestOfIsOrderIndependent(t *testing.T) {
	a := map[string]model.AnswerValue{
		"q1": model.Choice("A"),
		"q2": model.Text("photosynthesis"),
		"q3": model.Photo("/uploads/x.jpg", "see diagram"),
	}
	b := map[string]model.AnswerValue{}
	for _, k := range []string{"q3", "q1", "q2"} {
		b[k] = a[k]
	}
	if Of(a) != Of(b) {
		t.Fatal("checksum depends on map insertion order")
	}
	if len(Of(a)) != 64 {
		t.Fatalf("checksum length = %d, want 64", len(Of(a)))
	}
}

func TestOfDetectsChanges(t *testing.T) {
	base := map[string]model.AnswerValue{"q1": model.Choice("A"), "q2": model.Text("ab")}
	sum := Of(base)

	tests := []struct {
		name    string
		answers map[string]model.AnswerValue
	}{
		{"changed value", map[string]model.AnswerValue{"q1": model.Choice("B"), "q2": model.Text("ab")}},
		{"changed kind", map[string]model.AnswerValue{"q1": model.Text("A"), "q2": model.Text("ab")}},
		{"missing answer", map[string]model.AnswerValue{"q1": model.Choice("A")}},
		{"shifted boundary", map[string]model.AnswerValue{"q1": model.Choice("Aa"), "q2": model.Text("b")}},
		{"note added", map[string]model.AnswerValue{"q1": model.Choice("A"), "q2": {Kind: model.AnswerKindText, Value: "ab", Note: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.answers, sum) {
				t.Errorf("Verify() = true for %s", tt.name)
			}
		})
	}
	if !Verify(base, sum) {
		t.Error("Verify() = false for identical answers")
	}
}

func TestOfEmpty(t *testing.T) {
	if Of(nil) != Of(map[string]model.AnswerValue{}) {
		t.Fatal("nil and empty maps must hash equally")
	}
}
