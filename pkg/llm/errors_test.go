package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantType      ErrorType
		wantRetryable bool
	}{
		{
			name:          "authentication failure",
			err:           errors.New("401 Unauthorized: invalid api key"),
			wantType:      ErrorTypeAuth,
			wantRetryable: false,
		},
		{
			name:          "model not found",
			err:           errors.New("model 'gpt-nope' not found"),
			wantType:      ErrorTypeModel,
			wantRetryable: false,
		},
		{
			name:          "connection refused",
			err:           errors.New("dial tcp 127.0.0.1:8000: connection refused"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "timeout",
			err:           errors.New("context deadline exceeded (Client.Timeout exceeded)"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "rate limited",
			err:           errors.New("429 Too Many Requests: rate limit exceeded"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "anthropic overloaded",
			err:           errors.New("529 overloaded_error: Overloaded"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "server error",
			err:           errors.New("500 Internal Server Error"),
			wantType:      ErrorTypeEndpoint,
			wantRetryable: true,
		},
		{
			name:          "unknown error",
			err:           errors.New("something strange happened"),
			wantType:      ErrorTypeUnknown,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llmErr := ClassifyError(tt.err)
			if llmErr == nil {
				t.Fatal("ClassifyError returned nil for non-nil error")
			}
			if llmErr.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", llmErr.Type, tt.wantType)
			}
			if llmErr.IsRetryable() != tt.wantRetryable {
				t.Errorf("IsRetryable() = %v, want %v", llmErr.IsRetryable(), tt.wantRetryable)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(ErrorTypeEndpoint, "wrapped", true, cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestIsRetryable_NonLLMError(t *testing.T) {
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
