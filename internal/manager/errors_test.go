package manager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chatd/internal/llm"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{nil, "ok"},
		{ErrValidation("prompt is empty"), "validation"},
		{ErrModelLoad("/m", errors.New("boom")), "model_load"},
		{ErrModelLoad("/m", llm.ErrNotBuilt), "dependency_unavailable"},
		{ErrSessionBusy("/m", "queue full"), "session_busy"},
		{ErrTimeout("/m", time.Second), "timeout"},
		{ErrInference("/m", errors.New("boom")), "inference"},
		{fmt.Errorf("wrapped: %w", context.Canceled), "canceled"},
		{errors.New("other"), "internal"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.kind {
			t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.kind)
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	base := errors.New("disk on fire")
	if err := ErrModelLoad("/m", base); !errors.Is(err, base) {
		t.Fatalf("model load error should unwrap to cause: %v", err)
	}
	if err := ErrInference("/m", base); !errors.Is(err, base) {
		t.Fatalf("inference error should unwrap to cause: %v", err)
	}
	err := fmt.Errorf("handle: %w", ErrTimeout("/m", 2*time.Second))
	if !IsTimeout(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout error should match DeadlineExceeded: %v", err)
	}
	if got := ErrTimeout("/m", 0).Error(); got != "request for /m timed out" {
		t.Fatalf("unexpected message %q", got)
	}
	if IsValidation(base) || IsSessionBusy(base) || IsModelLoad(base) {
		t.Fatal("plain error must not match typed predicates")
	}
}
