package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
	"github.com/gameforge/forgeq/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw1-before")
		result, err := next(ctx)
		order = append(order, "mw1-after")
		return result, err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw2-before")
		result, err := next(ctx)
		order = append(order, "mw2-after")
		return result, err
	}

	chain := middleware.Chain(mw1, mw2)
	j := &job.Job{Type: "image_generation", ID: id.NewJobID()}
	handler := func(_ context.Context) ([]byte, error) {
		order = append(order, "handler")
		return []byte("done"), nil
	}

	result, err := chain(context.Background(), j, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "done" {
		t.Errorf("result = %q, want %q", result, "done")
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) ([]byte, error) {
		called = true
		return nil, nil
	}

	_, err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	_, err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) ([]byte, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	j := &job.Job{Type: "image_generation", ID: id.NewJobID()}

	result, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if result != nil {
		t.Errorf("expected nil result after panic, got %q", result)
	}
	if got := err.Error(); got != "panic in image_generation job: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	j := &job.Job{Type: "image_generation", ID: id.NewJobID()}

	called := false
	_, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	j := &job.Job{Type: "image_generation", ID: id.NewJobID(), Priority: job.PriorityNormal}

	called := false
	_, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	j := &job.Job{Type: "image_generation", ID: id.NewJobID(), Priority: job.PriorityNormal}
	want := errors.New("fail")

	_, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	j := &job.Job{Type: "image_generation", ID: id.NewJobID(), Timeout: 10 * time.Millisecond}

	_, err := mw(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return nil, nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroMeansNoDeadline(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	j := &job.Job{Type: "image_generation", ID: id.NewJobID()}

	_, err := mw(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline for zero-timeout job")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
