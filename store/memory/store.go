// Package memory implements store.Store entirely in process memory.
// Safe for concurrent access. Intended for unit testing and development;
// nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gameforge/forgeq"
	"github.com/gameforge/forgeq/dlq"
	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
	"github.com/gameforge/forgeq/ratelimit"
)

// pollInterval is how often blocking pops re-check the queue.
const pollInterval = 10 * time.Millisecond

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store       = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ ratelimit.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	jobs      map[string]*job.Job
	jobExpiry map[string]time.Time

	results      map[string][]byte
	resultExpiry map[string]time.Time

	// active holds queued job IDs per priority; the tail is the head of
	// the queue (both push and pop work the tail), so equal-priority
	// jobs drain newest-first.
	active map[job.Priority][]string

	// delayed maps job ID to due time per priority.
	delayed map[job.Priority]map[string]time.Time

	userJobs map[string]map[string]struct{}

	rates map[string]int64

	dlqEntries []*dlq.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:         make(map[string]*job.Job),
		jobExpiry:    make(map[string]time.Time),
		results:      make(map[string][]byte),
		resultExpiry: make(map[string]time.Time),
		active:       make(map[job.Priority][]string),
		delayed:      make(map[job.Priority]map[string]time.Time),
		userJobs:     make(map[string]map[string]struct{}),
		rates:        make(map[string]int64),
	}
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job records
// ──────────────────────────────────────────────────

// SaveJob persists a new job record with the given retention TTL.
func (m *Store) SaveJob(_ context.Context, j *job.Job, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if m.jobLive(key) {
		return forgeq.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	m.jobExpiry[key] = time.Now().Add(ttl)
	return nil
}

// UpdateJob rewrites an existing job record, preserving its TTL.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if !m.jobLive(key) {
		return forgeq.ErrJobNotFound
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if !m.jobLive(key) {
		return nil, forgeq.ErrJobNotFound
	}
	return m.jobs[key].Clone(), nil
}

// DeleteJob removes a job record, its result, and its queue entries.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteJobLocked(jobID.String())
	return nil
}

func (m *Store) deleteJobLocked(key string) {
	if j, ok := m.jobs[key]; ok {
		if set := m.userJobs[j.UserID]; set != nil {
			delete(set, key)
		}
		m.removeQueuedLocked(j.Priority, key)
	}
	delete(m.jobs, key)
	delete(m.jobExpiry, key)
	delete(m.results, key)
	delete(m.resultExpiry, key)
}

// jobLive reports whether the record exists and has not lazily expired.
// Caller holds the lock.
func (m *Store) jobLive(key string) bool {
	if _, ok := m.jobs[key]; !ok {
		return false
	}
	if exp, ok := m.jobExpiry[key]; ok && time.Now().After(exp) {
		m.deleteJobLocked(key)
		return false
	}
	return true
}

// ──────────────────────────────────────────────────
// Queue operations
// ──────────────────────────────────────────────────

// PushActive pushes a job ID onto the head of the priority's active queue.
func (m *Store) PushActive(_ context.Context, p job.Priority, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[p] = append(m.active[p], jobID.String())
	return nil
}

// PopActive blocks up to timeout for a job ID from the first non-empty
// active queue in the given priority order, polling on a short interval.
func (m *Store) PopActive(ctx context.Context, priorities []job.Priority, timeout time.Duration) (job.Priority, id.JobID, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		for _, p := range priorities {
			q := m.active[p]
			if len(q) == 0 {
				continue
			}
			key := q[len(q)-1]
			m.active[p] = q[:len(q)-1]
			m.mu.Unlock()
			jobID, err := id.ParseJobID(key)
			if err != nil {
				return 0, id.JobID{}, false, err
			}
			return p, jobID, true, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return 0, id.JobID{}, false, nil
		}
		select {
		case <-ctx.Done():
			return 0, id.JobID{}, false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// AddDelayed schedules a job ID in the priority's delayed set.
func (m *Store) AddDelayed(_ context.Context, p job.Priority, jobID id.JobID, due time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delayed[p] == nil {
		m.delayed[p] = make(map[string]time.Time)
	}
	m.delayed[p][jobID.String()] = due
	return nil
}

// PromoteDelayed moves every delayed job due at or before now onto the
// priority's active queue. Returns the number moved.
func (m *Store) PromoteDelayed(_ context.Context, p job.Priority, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	moved := 0
	for key, due := range m.delayed[p] {
		if due.After(now) {
			continue
		}
		delete(m.delayed[p], key)
		m.active[p] = append(m.active[p], key)
		moved++
	}
	return moved, nil
}

// RemoveQueued removes a job ID from the priority's active queue and
// delayed set. Returns false if it was in neither.
func (m *Store) RemoveQueued(_ context.Context, p job.Priority, jobID id.JobID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeQueuedLocked(p, jobID.String()), nil
}

func (m *Store) removeQueuedLocked(p job.Priority, key string) bool {
	removed := false
	q := m.active[p]
	for i, k := range q {
		if k == key {
			m.active[p] = append(q[:i], q[i+1:]...)
			removed = true
			break
		}
	}
	if _, ok := m.delayed[p][key]; ok {
		delete(m.delayed[p], key)
		removed = true
	}
	return removed
}

// QueueDepth returns the active and delayed sizes for one priority.
func (m *Store) QueueDepth(_ context.Context, p job.Priority) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.active[p])), int64(len(m.delayed[p])), nil
}

// ──────────────────────────────────────────────────
// User tracking
// ──────────────────────────────────────────────────

// TrackUserJob adds the job to the user's live-job set.
func (m *Store) TrackUserJob(_ context.Context, userID string, jobID id.JobID, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userJobs[userID] == nil {
		m.userJobs[userID] = make(map[string]struct{})
	}
	m.userJobs[userID][jobID.String()] = struct{}{}
	return nil
}

// UntrackUserJob removes the job from the user's live-job set.
func (m *Store) UntrackUserJob(_ context.Context, userID string, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set := m.userJobs[userID]; set != nil {
		delete(set, jobID.String())
	}
	return nil
}

// UserJobIDs lists the user's tracked live jobs.
func (m *Store) UserJobIDs(_ context.Context, userID string) ([]id.JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.userJobs[userID]
	jobIDs := make([]id.JobID, 0, len(set))
	for key := range set {
		jobID, err := id.ParseJobID(key)
		if err != nil {
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}
	return jobIDs, nil
}

// CountUserProcessing counts the user's jobs currently in processing state.
func (m *Store) CountUserProcessing(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key := range m.userJobs[userID] {
		if !m.jobLive(key) {
			delete(m.userJobs[userID], key)
			continue
		}
		if m.jobs[key].Status == job.StatusProcessing {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Results
// ──────────────────────────────────────────────────

// SaveResult persists a job's result blob with its own TTL.
func (m *Store) SaveResult(_ context.Context, jobID id.JobID, result []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobID.String()
	m.results[key] = append([]byte(nil), result...)
	m.resultExpiry[key] = time.Now().Add(ttl)
	return nil
}

// GetResult retrieves a stored result.
func (m *Store) GetResult(_ context.Context, jobID id.JobID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	result, ok := m.results[key]
	if !ok {
		return nil, forgeq.ErrResultNotFound
	}
	if exp, expOK := m.resultExpiry[key]; expOK && time.Now().After(exp) {
		delete(m.results, key)
		delete(m.resultExpiry, key)
		return nil, forgeq.ErrResultNotFound
	}
	return append([]byte(nil), result...), nil
}

// ──────────────────────────────────────────────────
// Maintenance
// ──────────────────────────────────────────────────

// SweepJobs deletes job records created before the cutoff. Returns the
// number removed.
func (m *Store) SweepJobs(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, j := range m.jobs {
		if !m.jobLive(key) {
			continue
		}
		if j.CreatedAt.Before(cutoff) {
			m.deleteJobLocked(key)
			removed++
		}
	}
	return removed, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ prepends an entry and trims the queue to maxEntries.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry, maxEntries int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqEntries = append([]*dlq.Entry{&cp}, m.dlqEntries...)
	if maxEntries > 0 && len(m.dlqEntries) > maxEntries {
		m.dlqEntries = m.dlqEntries[:maxEntries]
	}
	return nil
}

// ListDLQ returns entries newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []*dlq.Entry
	for _, e := range m.dlqEntries {
		if opts.UserID != "" && e.UserID != opts.UserID {
			continue
		}
		cp := *e
		entries = append(entries, &cp)
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.dlqEntries {
		if e.ID == entryID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, forgeq.ErrDLQNotFound
}

// MarkReplayed sets the entry's ReplayedAt timestamp.
func (m *Store) MarkReplayed(_ context.Context, entryID id.DLQID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.dlqEntries {
		if e.ID == entryID {
			at := at.UTC()
			e.ReplayedAt = &at
			return nil
		}
	}
	return forgeq.ErrDLQNotFound
}

// PurgeDLQ removes entries that failed before the cutoff.
func (m *Store) PurgeDLQ(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.dlqEntries[:0]
	var removed int64
	for _, e := range m.dlqEntries {
		if e.FailedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.dlqEntries = kept
	return removed, nil
}

// CountDLQ returns the number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// Rate-limit Store
// ──────────────────────────────────────────────────

func rateKey(userID string, w ratelimit.Window, now time.Time) string {
	return userID + ":" + w.String() + ":" + w.Bucket(now)
}

// WindowCounts reads the user's counters for the windows containing now.
func (m *Store) WindowCounts(_ context.Context, userID string, now time.Time) (ratelimit.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ratelimit.Counts{
		Minute: m.rates[rateKey(userID, ratelimit.WindowMinute, now)],
		Hour:   m.rates[rateKey(userID, ratelimit.WindowHour, now)],
		Day:    m.rates[rateKey(userID, ratelimit.WindowDay, now)],
	}, nil
}

// IncrementWindows increments the user's minute, hour, and day counters.
func (m *Store) IncrementWindows(_ context.Context, userID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[rateKey(userID, ratelimit.WindowMinute, now)]++
	m.rates[rateKey(userID, ratelimit.WindowHour, now)]++
	m.rates[rateKey(userID, ratelimit.WindowDay, now)]++
	return nil
}
