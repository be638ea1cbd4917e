package dlq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
)

// fakeStore is an in-memory Store for exercising the service without Redis.
type fakeStore struct {
	mu      sync.Mutex
	entries []*Entry
	pushErr error
}

func (f *fakeStore) PushDLQ(_ context.Context, entry *Entry, maxEntries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.entries = append([]*Entry{entry}, f.entries...)
	if maxEntries > 0 && len(f.entries) > maxEntries {
		f.entries = f.entries[:maxEntries]
	}
	return nil
}

func (f *fakeStore) ListDLQ(_ context.Context, opts ListOpts) ([]*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Entry
	for _, e := range f.entries {
		if opts.UserID != "" && e.UserID != opts.UserID {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetDLQ(_ context.Context, entryID id.DLQID) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeStore) MarkReplayed(_ context.Context, entryID id.DLQID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == entryID {
			e.ReplayedAt = &at
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeStore) PurgeDLQ(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*Entry
	var removed int64
	for _, e := range f.entries {
		if e.FailedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return removed, nil
}

func (f *fakeStore) CountDLQ(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries)), nil
}

type fakeEnqueuer struct {
	userID  string
	jobType string
	payload []byte
	err     error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, userID, jobType string, payload []byte, _ ...job.Option) (id.JobID, error) {
	f.userID = userID
	f.jobType = jobType
	f.payload = payload
	if f.err != nil {
		return id.JobID{}, f.err
	}
	return id.NewJobID(), nil
}

func failedJob(userID string) *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		UserID:     userID,
		Type:       "image_generation",
		Payload:    []byte(`{"prompt":"castle"}`),
		Status:     job.StatusFailed,
		RetryCount: 3,
		MaxRetries: 3,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestService_Push(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)
	ctx := context.Background()

	j := failedJob("user-1")
	entry, err := svc.Push(ctx, j, errors.New("model exploded"))
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if entry.JobID != j.ID {
		t.Errorf("entry.JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.Error != "model exploded" {
		t.Errorf("entry.Error = %q, want %q", entry.Error, "model exploded")
	}
	if entry.RetryCount != 3 {
		t.Errorf("entry.RetryCount = %d, want 3", entry.RetryCount)
	}
	if string(entry.Payload) != string(j.Payload) {
		t.Errorf("entry.Payload = %s, want %s", entry.Payload, j.Payload)
	}

	n, err := svc.Size(ctx)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Size() = %d, want 1", n)
	}
}

func TestService_PushCapsEntries(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, WithMaxEntries(3))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Push(ctx, failedJob("user-1"), errors.New("boom")); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	n, _ := svc.Size(ctx)
	if n != 3 {
		t.Errorf("Size() = %d, want 3 after cap", n)
	}
}

func TestService_PushStoreError(t *testing.T) {
	store := &fakeStore{pushErr: errors.New("redis down")}
	svc := NewService(store)

	if _, err := svc.Push(context.Background(), failedJob("user-1"), errors.New("boom")); err == nil {
		t.Fatal("Push() error = nil, want store error")
	}
}

func TestService_ListFiltersByUser(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)
	ctx := context.Background()

	svc.Push(ctx, failedJob("user-a"), errors.New("boom")) //nolint:errcheck
	svc.Push(ctx, failedJob("user-b"), errors.New("boom")) //nolint:errcheck
	svc.Push(ctx, failedJob("user-a"), errors.New("boom")) //nolint:errcheck

	entries, err := svc.List(ctx, ListOpts{UserID: "user-a"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.UserID != "user-a" {
			t.Errorf("entry.UserID = %q, want %q", e.UserID, "user-a")
		}
	}
}

func TestService_ListLimit(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		svc.Push(ctx, failedJob("user-1"), errors.New("boom")) //nolint:errcheck
	}

	entries, err := svc.List(ctx, ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("List() returned %d entries, want 2", len(entries))
	}
}

func TestService_Cleanup(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, WithRetention(time.Hour))
	ctx := context.Background()

	old, _ := svc.Push(ctx, failedJob("user-1"), errors.New("boom"))
	old.FailedAt = time.Now().UTC().Add(-2 * time.Hour)
	svc.Push(ctx, failedJob("user-1"), errors.New("boom")) //nolint:errcheck

	removed, err := svc.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() removed = %d, want 1", removed)
	}
	n, _ := svc.Size(ctx)
	if n != 1 {
		t.Errorf("Size() = %d, want 1 after cleanup", n)
	}
}

func TestService_Replay(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)
	ctx := context.Background()

	entry, err := svc.Push(ctx, failedJob("user-1"), errors.New("boom"))
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	enq := &fakeEnqueuer{}
	jobID, err := svc.Replay(ctx, entry.ID, enq)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if jobID.IsNil() {
		t.Error("Replay() returned nil job ID")
	}
	if enq.userID != "user-1" {
		t.Errorf("enqueued userID = %q, want %q", enq.userID, "user-1")
	}
	if enq.jobType != "image_generation" {
		t.Errorf("enqueued jobType = %q, want %q", enq.jobType, "image_generation")
	}
	if string(enq.payload) != string(entry.Payload) {
		t.Errorf("enqueued payload = %s, want %s", enq.payload, entry.Payload)
	}

	got, _ := svc.Get(ctx, entry.ID)
	if got.ReplayedAt == nil {
		t.Error("entry.ReplayedAt = nil, want set after replay")
	}
}

func TestService_ReplayEnqueueError(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)
	ctx := context.Background()

	entry, _ := svc.Push(ctx, failedJob("user-1"), errors.New("boom"))

	enq := &fakeEnqueuer{err: errors.New("queue full")}
	if _, err := svc.Replay(ctx, entry.ID, enq); err == nil {
		t.Fatal("Replay() error = nil, want enqueue error")
	}

	got, _ := svc.Get(ctx, entry.ID)
	if got.ReplayedAt != nil {
		t.Error("entry.ReplayedAt set despite failed replay")
	}
}
