package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	attempts := 0
	wantErr := errors.New("timeout")
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() = %v, want %v", err, wantErr)
	}
	if attempts != 4 { // initial attempt + 3 retries
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &Config{MaxRetries: 5, InitialDelay: time.Minute, MaxDelay: time.Minute, Multiplier: 2}
	err := Do(ctx, cfg, func() error { return errors.New("timeout") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("503 service unavailable")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("DoWithResult() error = %v", err)
	}
	if got != 42 {
		t.Errorf("DoWithResult() = %d, want 42", got)
	}
}

func TestDoIfRetryable_PermanentErrorReturnsImmediately(t *testing.T) {
	attempts := 0
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		attempts++
		return errors.New("invalid api key")
	})
	if err == nil {
		t.Fatal("DoIfRetryable() = nil, want error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDoIfRetryable_EscalatesRepeatedErrorType(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 10
	cfg.MaxSameErrorType = 3

	attempts := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		attempts++
		return errors.New("429 too many requests")
	})
	if err == nil {
		t.Fatal("DoIfRetryable() = nil, want escalated error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (escalated before retry budget)", attempts)
	}
}

type explicitRetryable struct{ retryable bool }

func (e *explicitRetryable) Error() string     { return "explicit" }
func (e *explicitRetryable) IsRetryable() bool { return e.retryable }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"neo4j transient", errors.New("Neo.TransientError.Transaction.DeadlockDetected"), true},
		{"auth failure", errors.New("password authentication failed"), false},
		{"explicit retryable", &explicitRetryable{true}, true},
		{"explicit permanent", &explicitRetryable{false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
