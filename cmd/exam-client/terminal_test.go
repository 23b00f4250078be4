package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stemsi/exstem-portal/internal/model"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"a B", command{"a", "B"}},
		{"  T  jawaban panjang sekali ", command{"t", "jawaban panjang sekali"}},
		{"s", command{"s", ""}},
		{"", command{"", ""}},
	}
	for _, tt := range tests {
		if got := parseCommand(tt.line); got != tt.want {
			t.Errorf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestRenderOptions(t *testing.T) {
	raw, _ := json.Marshal([]option{{"A", "86"}, {"B", "96"}})
	got := renderOptions(raw)
	if !strings.Contains(got, "A. 86") || !strings.Contains(got, "B. 96") {
		t.Fatalf("renderOptions = %q", got)
	}
	if renderOptions(nil) != "" {
		t.Fatal("empty options should render nothing")
	}
	if got := renderOptions(json.RawMessage(`{"x":1}`)); !strings.Contains(got, `{"x":1}`) {
		t.Fatalf("unknown shape = %q", got)
	}
}

func TestDescribeAnswer(t *testing.T) {
	tests := []struct {
		a    model.AnswerValue
		want string
	}{
		{model.AnswerValue{}, "-"},
		{model.Choice("C"), "C"},
		{model.Photo("/uploads/x.png", ""), "foto"},
		{model.Photo("/uploads/x.png", "lihat"), "foto + catatan"},
		{model.Text(strings.Repeat("x", 50)), strings.Repeat("x", 40) + "..."},
	}
	for _, tt := range tests {
		if got := describeAnswer(tt.a); got != tt.want {
			t.Errorf("describeAnswer(%+v) = %q, want %q", tt.a, got, tt.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	if got := formatClock(3725); got != "01:02:05" {
		t.Fatalf("formatClock = %q", got)
	}
}
