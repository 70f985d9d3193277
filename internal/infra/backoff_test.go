package infra

import (
	"context"
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},  // capped
		{100, 60 * time.Second}, // still capped
	}

	for _, tt := range tests {
		if got := CalculateBackoff(tt.retryCount); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

func TestBackoff_Sleep(t *testing.T) {
	b := Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}
	if err := b.Sleep(context.Background(), 1); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if got := b.Delay(8); got != 5*time.Millisecond {
		t.Errorf("Delay(8) = %s, want cap", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := Backoff{Base: time.Hour, Max: time.Hour}
	if err := slow.Sleep(ctx, 0); err == nil {
		t.Error("expected context error from cancelled Sleep")
	}
}
