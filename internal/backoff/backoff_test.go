package backoff

import (
	"testing"
	"time"
)

func TestLinearDelay(t *testing.T) {
	var s Linear

	tests := []struct {
		attempt int
		base    time.Duration
		max     time.Duration
		want    time.Duration
	}{
		{1, time.Second, 0, time.Second},
		{2, time.Second, 0, 2 * time.Second},
		{5, 200 * time.Millisecond, 0, time.Second},
		{10, time.Second, 3 * time.Second, 3 * time.Second},
		{0, time.Second, 0, time.Second},
		{-3, time.Second, 0, time.Second},
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempt, tt.base, tt.max); got != tt.want {
			t.Errorf("Delay(%d, %v, %v) = %v, want %v", tt.attempt, tt.base, tt.max, got, tt.want)
		}
	}
}

func TestExponentialJitterDelay(t *testing.T) {
	s := ExponentialJitter{Multiplier: 2.0}

	if got := s.Delay(1, time.Second, 0); got != time.Second {
		t.Errorf("first retry = %v, want base", got)
	}
	if got := s.Delay(2, time.Second, 0); got != 2*time.Second {
		t.Errorf("second retry = %v, want 2s", got)
	}
	if got := s.Delay(4, time.Second, 0); got != 8*time.Second {
		t.Errorf("fourth retry = %v, want 8s", got)
	}
	if got := s.Delay(10, time.Second, 5*time.Second); got != 5*time.Second {
		t.Errorf("capped retry = %v, want 5s", got)
	}
}

func TestExponentialJitterDefaultsMultiplier(t *testing.T) {
	var s ExponentialJitter

	if got := s.Delay(3, time.Second, 0); got != 4*time.Second {
		t.Errorf("Delay = %v, want 4s with default multiplier", got)
	}
}

func TestExponentialJitterBounds(t *testing.T) {
	s := ExponentialJitter{Multiplier: 2.0, Jitter: 0.5}
	base := time.Second
	max := 30 * time.Second

	for attempt := 1; attempt <= 8; attempt++ {
		for i := 0; i < 50; i++ {
			got := s.Delay(attempt, base, max)
			lower := time.Duration(float64(base) * Pow(2.0, attempt-1))
			if lower > max {
				lower = max
			}
			upper := lower + time.Duration(float64(lower)*0.5)
			if upper > max {
				upper = max
			}
			if got < lower || got > upper {
				t.Fatalf("Delay(attempt=%d) = %v, want in [%v, %v]", attempt, got, lower, upper)
			}
		}
	}
}

func TestExponentialJitterClampsJitterFraction(t *testing.T) {
	s := ExponentialJitter{Multiplier: 2.0, Jitter: 5.0}

	for i := 0; i < 50; i++ {
		if got := s.Delay(1, time.Second, 0); got > 2*time.Second {
			t.Fatalf("Delay = %v, jitter fraction should clamp to 1", got)
		}
	}
}

func TestPow(t *testing.T) {
	tests := []struct {
		base     float64
		exponent int
		want     float64
	}{
		{2.0, 0, 1.0},
		{2.0, 1, 2.0},
		{2.0, 10, 1024.0},
		{1.5, 2, 2.25},
		{3.0, -1, 1.0},
	}

	for _, tt := range tests {
		if got := Pow(tt.base, tt.exponent); got != tt.want {
			t.Errorf("Pow(%v, %d) = %v, want %v", tt.base, tt.exponent, got, tt.want)
		}
	}
}
