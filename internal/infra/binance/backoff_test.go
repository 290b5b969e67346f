package binance

import (
	"testing"
	"time"
)

func TestBackoff_NoJitter(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 60 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Next(tt.attempt); got != tt.want {
			t.Errorf("Next(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := DefaultBackoff()

	for i := 0; i < 200; i++ {
		d := b.Next(2)
		if d < 3200*time.Millisecond || d > 4800*time.Millisecond {
			t.Fatalf("Next(2) = %v outside 4s +/- 20%%", d)
		}
		if capped := b.Next(50); capped > maxDelay {
			t.Fatalf("Next(50) = %v exceeds cap", capped)
		}
	}
}
