package retry

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   1.0,
	}
}

func TestWithBackoffSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("WithBackoff() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithBackoffRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return fmt.Errorf("transient failure %d", attempt)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithBackoff() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithBackoffExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		return fmt.Errorf("permanent failure")
	})
	if err == nil {
		t.Fatal("WithBackoff() error = nil, want failure after exhausted attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithBackoffHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := WithBackoff(ctx, fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return fmt.Errorf("failure")
	})
	if err == nil {
		t.Fatal("WithBackoff() error = nil, want cancellation error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancellation)", calls)
	}
}

func TestCalculateDelay(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		attempt int
		want    time.Duration
	}{
		{
			name:    "linear backoff keeps constant delay",
			config:  &Config{InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 1.0},
			attempt: 3,
			want:    500 * time.Millisecond,
		},
		{
			name:    "exponential backoff doubles",
			config:  &Config{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0},
			attempt: 3,
			want:    4 * time.Second,
		},
		{
			name:    "delay capped at max",
			config:  &Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2.0},
			attempt: 5,
			want:    3 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateDelay(tt.config, tt.attempt)
			if got != tt.want {
				t.Errorf("calculateDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}
