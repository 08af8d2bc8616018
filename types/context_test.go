package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := SessionID(ctx); ok {
		t.Fatalf("expected no session id on empty context")
	}

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithSessionID(ctx, "s1")
	if got, ok := SessionID(ctx); !ok || got != "s1" {
		t.Fatalf("SessionID mismatch: %v %v", got, ok)
	}

	ctx = WithOperatorID(ctx, "agent-7")
	if got, ok := OperatorID(ctx); !ok || got != "agent-7" {
		t.Fatalf("OperatorID mismatch: %v %v", got, ok)
	}

	ctx = WithOperatorID(ctx, "")
	if _, ok := OperatorID(ctx); ok {
		t.Fatalf("empty operator id must not be reported")
	}
}
