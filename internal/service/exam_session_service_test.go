package service

import (
	"testing"
	"time"
)

func TestComputeRemaining(t *testing.T) {
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	early := start.Add(30 * time.Minute)

	tests := []struct {
		name      string
		now       time.Time
		windowEnd *time.Time
		want      int
		expired   bool
		ends      time.Time
	}{
		{"fresh start", start, nil, 3600, false, start.Add(time.Hour)},
		{"reopened after three minutes", start.Add(3 * time.Minute), nil, 3420, false, start.Add(time.Hour)},
		{"sub-second truncates", start.Add(59*time.Minute + 59500*time.Millisecond), nil, 0, true, start.Add(time.Hour)},
		{"window closes first", start.Add(10 * time.Minute), &early, 1200, false, early},
		{"long past end", start.Add(5 * time.Hour), nil, 0, true, start.Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeRemaining(start, 60, tt.windowEnd, tt.now)
			if got.RemainingSeconds != tt.want || got.IsExpired != tt.expired {
				t.Errorf("remaining = %d expired = %v, want %d %v", got.RemainingSeconds, got.IsExpired, tt.want, tt.expired)
			}
			if !got.EndsAt.Equal(tt.ends) {
				t.Errorf("ends at %v, want %v", got.EndsAt, tt.ends)
			}
		})
	}
}
