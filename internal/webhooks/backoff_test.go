package webhooks

import (
	"testing"
	"time"
)

func TestNextRetryAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first failure", 1, 60 * time.Second},
		{"second failure", 2, 300 * time.Second},
		{"third failure", 3, 1800 * time.Second},
		{"fourth failure", 4, 7200 * time.Second},
		{"fifth failure", 5, 21600 * time.Second},
		{"sixth failure", 6, 86400 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRetryAt(tt.attempt, DefaultMaxAttempts, now)
			if got == nil {
				t.Fatalf("NextRetryAt(%d) = nil, want %s", tt.attempt, tt.want)
			}
			if want := now.Add(tt.want); !got.Equal(want) {
				t.Errorf("NextRetryAt(%d) = %s, want %s", tt.attempt, got, want)
			}
		})
	}
}

func TestNextRetryAtExhausted(t *testing.T) {
	now := time.Now().UTC()

	if got := NextRetryAt(DefaultMaxAttempts, DefaultMaxAttempts, now); got != nil {
		t.Errorf("NextRetryAt at max attempts = %s, want nil", got)
	}
	if got := NextRetryAt(DefaultMaxAttempts+3, DefaultMaxAttempts, now); got != nil {
		t.Errorf("NextRetryAt beyond max attempts = %s, want nil", got)
	}
}

func TestNextRetryAtClampsToLastInterval(t *testing.T) {
	now := time.Now().UTC()

	// With a raised budget the schedule repeats its last entry rather than
	// running off the end of the table.
	got := NextRetryAt(8, 10, now)
	if got == nil {
		t.Fatal("NextRetryAt(8, 10) = nil, want a time")
	}
	if want := now.Add(86400 * time.Second); !got.Equal(want) {
		t.Errorf("NextRetryAt(8, 10) = %s, want %s", got, want)
	}
}

func TestNextRetryAtZeroAttempt(t *testing.T) {
	now := time.Now().UTC()

	got := NextRetryAt(0, DefaultMaxAttempts, now)
	if got == nil {
		t.Fatal("NextRetryAt(0) = nil, want a time")
	}
	if want := now.Add(60 * time.Second); !got.Equal(want) {
		t.Errorf("NextRetryAt(0) = %s, want %s", got, want)
	}
}
