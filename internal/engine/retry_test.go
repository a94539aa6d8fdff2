package engine

import (
	"testing"
	"time"
)

func intPtr(i int) *int { return &i }

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 3, BaseDelay: time.Second, Multiplier: 2})

	tests := []struct {
		name    string
		attempt int
		status  *int
		want    bool
	}{
		{"transport error first attempt", 1, nil, true},
		{"transport error at max", 3, nil, false},
		{"500 below max", 1, intPtr(500), true},
		{"503 below max", 2, intPtr(503), true},
		{"599 below max", 2, intPtr(599), true},
		{"500 at max", 3, intPtr(500), false},
		{"500 past max", 4, intPtr(500), false},
		{"400 never", 1, intPtr(400), false},
		{"404 never", 1, intPtr(404), false},
		{"429 never", 2, intPtr(429), false},
		{"499 never", 1, intPtr(499), false},
		{"200 not retried", 1, intPtr(200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRetry(tt.attempt, tt.status); got != tt.want {
				t.Errorf("ShouldRetry(%d, %v) = %v, want %v", tt.attempt, tt.status, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_4xxNeverRetried(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 10})
	for code := 400; code < 500; code++ {
		for attempt := 1; attempt <= 10; attempt++ {
			if p.ShouldRetry(attempt, intPtr(code)) {
				t.Fatalf("status %d attempt %d should not retry", code, attempt)
			}
		}
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 5, BaseDelay: time.Minute, Multiplier: 2})

	expected := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute}
	for i, want := range expected {
		if got := p.Delay(i + 1); got != want {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, want)
		}
	}
}

func TestRetryPolicy_DelayGrowsByMultiplier(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 5, BaseDelay: 250 * time.Millisecond, Multiplier: 3})

	for n := 1; n < 15; n++ {
		cur, next := p.Delay(n), p.Delay(n+1)
		if next <= cur {
			t.Fatalf("Delay(%d)=%v not greater than Delay(%d)=%v", n+1, next, n, cur)
		}
		if next != 3*cur {
			t.Fatalf("Delay(%d)=%v, want 3*%v", n+1, next, cur)
		}
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{Multiplier: 0.5})

	if p.MaxRetries() != 3 {
		t.Errorf("MaxRetries = %d, want 3", p.MaxRetries())
	}
	if p.Delay(1) != time.Minute {
		t.Errorf("Delay(1) = %v, want 1m", p.Delay(1))
	}
	if p.Delay(2) != 2*time.Minute {
		t.Errorf("non-growing multiplier should fall back to 2, got Delay(2) = %v", p.Delay(2))
	}
}
