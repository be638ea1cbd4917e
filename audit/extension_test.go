package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gameforge/forgeq/audit"
	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		UserID:     "alice",
		Type:       "generate_image",
		Priority:   job.PriorityHigh,
		MaxRetries: 3,
	}
}

func findByAction(events []*audit.Event, action string) *audit.Event {
	for _, evt := range events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

func TestExtensionRecordsLifecycle(t *testing.T) {
	t.Parallel()

	trail := audit.NewTrail(0)
	ext := audit.New(trail, audit.WithLogger(discardLogger()))
	ctx := context.Background()
	j := testJob()

	if err := ext.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := ext.OnJobStarted(ctx, j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}
	if err := ext.OnJobCompleted(ctx, j, 120*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	events := trail.Events()
	if len(events) != 3 {
		t.Fatalf("recorded %d events, want 3", len(events))
	}

	enq := findByAction(events, audit.ActionJobEnqueued)
	if enq == nil {
		t.Fatal("no job.enqueued event recorded")
	}
	if enq.ResourceID != j.ID.String() {
		t.Errorf("ResourceID = %q, want %q", enq.ResourceID, j.ID)
	}
	if enq.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", enq.UserID)
	}
	if enq.Severity != audit.SeverityInfo || enq.Outcome != audit.OutcomeSuccess {
		t.Errorf("severity/outcome = %q/%q, want info/success", enq.Severity, enq.Outcome)
	}

	done := findByAction(events, audit.ActionJobCompleted)
	if done == nil {
		t.Fatal("no job.completed event recorded")
	}
	if got := done.Metadata["elapsed_ms"]; got != int64(120) {
		t.Errorf("elapsed_ms = %v, want 120", got)
	}
}

func TestExtensionFailureSeverity(t *testing.T) {
	t.Parallel()

	trail := audit.NewTrail(0)
	ext := audit.New(trail, audit.WithLogger(discardLogger()))
	ctx := context.Background()
	j := testJob()
	jobErr := errors.New("gpu out of memory")

	if err := ext.OnJobFailed(ctx, j, jobErr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := ext.OnJobDLQ(ctx, j, jobErr); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}

	for _, action := range []string{audit.ActionJobFailed, audit.ActionJobDLQ} {
		evt := findByAction(trail.Events(), action)
		if evt == nil {
			t.Fatalf("no %s event recorded", action)
		}
		if evt.Severity != audit.SeverityCritical {
			t.Errorf("%s: Severity = %q, want critical", action, evt.Severity)
		}
		if evt.Reason != "gpu out of memory" {
			t.Errorf("%s: Reason = %q", action, evt.Reason)
		}
	}
}

func TestExtensionRetryingEvent(t *testing.T) {
	t.Parallel()

	trail := audit.NewTrail(0)
	ext := audit.New(trail, audit.WithLogger(discardLogger()))
	j := testJob()
	retry := testJob()
	retry.RetryCount = 1
	nextRun := time.Now().Add(20 * time.Second)

	if err := ext.OnJobRetrying(context.Background(), j, retry, nextRun); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := findByAction(trail.Events(), audit.ActionJobRetrying)
	if evt == nil {
		t.Fatal("no job.retrying event recorded")
	}
	if evt.Severity != audit.SeverityWarning {
		t.Errorf("Severity = %q, want warning", evt.Severity)
	}
	if got := evt.Metadata["retry_id"]; got != retry.ID.String() {
		t.Errorf("retry_id = %v, want %s", got, retry.ID)
	}
}

func TestExtensionActionFilter(t *testing.T) {
	t.Parallel()

	trail := audit.NewTrail(0)
	ext := audit.New(trail,
		audit.WithLogger(discardLogger()),
		audit.WithActions(audit.ActionJobFailed),
	)
	ctx := context.Background()
	j := testJob()

	if err := ext.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := ext.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	events := trail.Events()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	if events[0].Action != audit.ActionJobFailed {
		t.Errorf("Action = %q, want job.failed", events[0].Action)
	}
}

func TestExtensionRecorderErrorSwallowed(t *testing.T) {
	t.Parallel()

	failing := audit.RecorderFunc(func(context.Context, *audit.Event) error {
		return errors.New("backend down")
	})
	ext := audit.New(failing, audit.WithLogger(discardLogger()))

	// Recorder failures must never propagate into the job lifecycle.
	if err := ext.OnJobEnqueued(context.Background(), testJob()); err != nil {
		t.Errorf("OnJobEnqueued = %v, want nil", err)
	}
}

func TestTrailCapacityAndUserQuery(t *testing.T) {
	t.Parallel()

	trail := audit.NewTrail(2)
	ext := audit.New(trail, audit.WithLogger(discardLogger()))
	ctx := context.Background()

	jobs := []*job.Job{testJob(), testJob(), testJob()}
	jobs[2].UserID = "bob"
	for _, j := range jobs {
		if err := ext.OnJobEnqueued(ctx, j); err != nil {
			t.Fatalf("OnJobEnqueued: %v", err)
		}
	}

	if got := trail.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2 (capacity bound)", got)
	}
	// Oldest event was evicted; remaining are jobs[1] (alice) and jobs[2] (bob).
	if got := len(trail.EventsForUser("bob")); got != 1 {
		t.Errorf("EventsForUser(bob) = %d events, want 1", got)
	}
	if got := len(trail.EventsForUser("alice")); got != 1 {
		t.Errorf("EventsForUser(alice) = %d events, want 1", got)
	}
}

func TestAllActions(t *testing.T) {
	t.Parallel()

	actions := audit.AllActions()
	if len(actions) != 7 {
		t.Fatalf("AllActions = %d entries, want 7", len(actions))
	}
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if seen[a] {
			t.Errorf("duplicate action %q", a)
		}
		seen[a] = true
	}
}
