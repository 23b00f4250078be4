package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupTo(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	tests := []struct {
		name      string
		level     string
		format    string
		wantDebug bool
		wantJSON  bool
	}{
		{"json info", "info", "json", false, true},
		{"json debug", "debug", "json", true, true},
		{"bad level falls back to info", "loud", "json", false, true},
		{"pretty", "debug", "pretty", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := SetupTo(&buf, tt.level, tt.format)

			log.Debug().Msg("debug line")
			log.Info().Str("component", "test").Msg("info line")

			out := buf.String()
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Fatalf("debug emitted = %v, want %v\n%s", got, tt.wantDebug, out)
			}
			first := strings.SplitN(strings.TrimSpace(out), "\n", 2)[0]
			if got := json.Valid([]byte(first)); got != tt.wantJSON {
				t.Fatalf("json = %v, want %v: %s", got, tt.wantJSON, first)
			}
		})
	}
}
