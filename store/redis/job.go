package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gameforge/forgeq"
	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
)

// SaveJob stores the job as a Hash with the given retention TTL.
func (s *Store) SaveJob(ctx context.Context, j *job.Job, ttl time.Duration) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("forgeq/redis: save job check exists: %w", err)
	}
	if exists > 0 {
		return forgeq.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, jobIDsKey, jID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forgeq/redis: save job: %w", err)
	}
	return nil
}

// UpdateJob persists changes to an existing job. The hash TTL set at save
// time is untouched.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("forgeq/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return forgeq.ErrJobNotFound
	}

	if _, err = s.client.HSet(ctx, key, jobToMap(j)).Result(); err != nil {
		return fmt.Errorf("forgeq/redis: update job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// DeleteJob removes a job record, its result, and its queue entries.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	vals, err := s.client.HMGet(ctx, key, "user_id", "priority").Result()
	if err != nil {
		return fmt.Errorf("forgeq/redis: delete job get fields: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, resultKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	if userID, ok := vals[0].(string); ok && userID != "" {
		pipe.SRem(ctx, userJobsKey(userID), jID)
	}
	if pStr, ok := vals[1].(string); ok && pStr != "" {
		if pInt, convErr := strconv.Atoi(pStr); convErr == nil {
			p := job.Priority(pInt)
			pipe.LRem(ctx, activeKey(p.String()), 0, jID)
			pipe.ZRem(ctx, delayedKey(p.String()), jID)
		}
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forgeq/redis: delete job: %w", err)
	}
	return nil
}

// ── Queue operations ──

// PushActive pushes a job ID onto the head of the priority's active list.
func (s *Store) PushActive(ctx context.Context, p job.Priority, jobID id.JobID) error {
	if err := s.client.LPush(ctx, activeKey(p.String()), jobID.String()).Err(); err != nil {
		return fmt.Errorf("forgeq/redis: push active: %w", err)
	}
	return nil
}

// PopActive blocks up to timeout for a job ID from the first non-empty
// active list, checked in the given priority order. BLPop honors key order
// and takes from the head, the same side PushActive writes, so the highest
// priority wins and equal-priority jobs drain newest-first.
func (s *Store) PopActive(ctx context.Context, priorities []job.Priority, timeout time.Duration) (job.Priority, id.JobID, bool, error) {
	keys := make([]string, len(priorities))
	byKey := make(map[string]job.Priority, len(priorities))
	for i, p := range priorities {
		keys[i] = activeKey(p.String())
		byKey[keys[i]] = p
	}

	vals, err := s.client.BLPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, id.JobID{}, false, nil
		}
		return 0, id.JobID{}, false, fmt.Errorf("forgeq/redis: pop active: %w", err)
	}
	// BLPop returns [key, value].
	jobID, err := id.ParseJobID(vals[1])
	if err != nil {
		return 0, id.JobID{}, false, fmt.Errorf("forgeq/redis: pop active parse id: %w", err)
	}
	return byKey[vals[0]], jobID, true, nil
}

// AddDelayed schedules a job ID in the priority's delayed set, scored by
// due time.
func (s *Store) AddDelayed(ctx context.Context, p job.Priority, jobID id.JobID, due time.Time) error {
	z := goredis.Z{Score: float64(due.UnixMilli()) / 1e3, Member: jobID.String()}
	if err := s.client.ZAdd(ctx, delayedKey(p.String()), z).Err(); err != nil {
		return fmt.Errorf("forgeq/redis: add delayed: %w", err)
	}
	return nil
}

// PromoteDelayed moves every delayed job due at or before now onto the
// priority's active list in a single transaction.
func (s *Store) PromoteDelayed(ctx context.Context, p job.Priority, now time.Time) (int, error) {
	dk := delayedKey(p.String())
	maxScore := strconv.FormatFloat(float64(now.UnixMilli())/1e3, 'f', -1, 64)

	due, err := s.client.ZRangeByScore(ctx, dk, &goredis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("forgeq/redis: promote delayed range: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(due))
	for i, m := range due {
		members[i] = m
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, dk, members...)
	for _, m := range due {
		pipe.LPush(ctx, activeKey(p.String()), m)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("forgeq/redis: promote delayed: %w", err)
	}
	return len(due), nil
}

// RemoveQueued removes a job ID from both the active list and the delayed
// set of one priority. Returns false if it was in neither.
func (s *Store) RemoveQueued(ctx context.Context, p job.Priority, jobID id.JobID) (bool, error) {
	jID := jobID.String()

	pipe := s.client.TxPipeline()
	lrem := pipe.LRem(ctx, activeKey(p.String()), 0, jID)
	zrem := pipe.ZRem(ctx, delayedKey(p.String()), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("forgeq/redis: remove queued: %w", err)
	}
	return lrem.Val() > 0 || zrem.Val() > 0, nil
}

// QueueDepth returns the active-list length and delayed-set size for one
// priority.
func (s *Store) QueueDepth(ctx context.Context, p job.Priority) (int64, int64, error) {
	pipe := s.client.TxPipeline()
	llen := pipe.LLen(ctx, activeKey(p.String()))
	zcard := pipe.ZCard(ctx, delayedKey(p.String()))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("forgeq/redis: queue depth: %w", err)
	}
	return llen.Val(), zcard.Val(), nil
}

// ── User tracking ──

// TrackUserJob adds the job to the user's live-job set.
func (s *Store) TrackUserJob(ctx context.Context, userID string, jobID id.JobID, ttl time.Duration) error {
	key := userJobsKey(userID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, jobID.String())
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forgeq/redis: track user job: %w", err)
	}
	return nil
}

// UntrackUserJob removes the job from the user's live-job set.
func (s *Store) UntrackUserJob(ctx context.Context, userID string, jobID id.JobID) error {
	if err := s.client.SRem(ctx, userJobsKey(userID), jobID.String()).Err(); err != nil {
		return fmt.Errorf("forgeq/redis: untrack user job: %w", err)
	}
	return nil
}

// UserJobIDs lists the user's tracked live jobs.
func (s *Store) UserJobIDs(ctx context.Context, userID string) ([]id.JobID, error) {
	members, err := s.client.SMembers(ctx, userJobsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("forgeq/redis: user job ids: %w", err)
	}
	jobIDs := make([]id.JobID, 0, len(members))
	for _, m := range members {
		jobID, parseErr := id.ParseJobID(m)
		if parseErr != nil {
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}
	return jobIDs, nil
}

// CountUserProcessing counts the user's jobs currently in processing
// state. Members whose records have expired are pruned along the way.
func (s *Store) CountUserProcessing(ctx context.Context, userID string) (int, error) {
	key := userJobsKey(userID)
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("forgeq/redis: count processing: %w", err)
	}

	count := 0
	for _, m := range members {
		status, getErr := s.client.HGet(ctx, jobKey(m), "status").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				// Record expired; drop the stale member.
				s.client.SRem(ctx, key, m) //nolint:errcheck // best-effort prune
				continue
			}
			return 0, fmt.Errorf("forgeq/redis: count processing: %w", getErr)
		}
		if job.Status(status) == job.StatusProcessing {
			count++
		}
	}
	return count, nil
}

// ── Results ──

// SaveResult persists a job's result blob with its own TTL.
func (s *Store) SaveResult(ctx context.Context, jobID id.JobID, result []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, resultKey(jobID.String()), result, ttl).Err(); err != nil {
		return fmt.Errorf("forgeq/redis: save result: %w", err)
	}
	return nil
}

// GetResult retrieves a stored result.
func (s *Store) GetResult(ctx context.Context, jobID id.JobID) ([]byte, error) {
	data, err := s.client.Get(ctx, resultKey(jobID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, forgeq.ErrResultNotFound
		}
		return nil, fmt.Errorf("forgeq/redis: get result: %w", err)
	}
	return data, nil
}

// ── Maintenance ──

// SweepJobs deletes job records created before the cutoff, plus records
// that can no longer be decoded, and prunes index entries whose hashes
// already expired. Returns the number of records removed.
func (s *Store) SweepJobs(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("forgeq/redis: sweep smembers: %w", err)
	}

	removed := 0
	for _, jID := range ids {
		vals, getErr := s.client.HGetAll(ctx, jobKey(jID)).Result()
		if getErr != nil {
			return removed, fmt.Errorf("forgeq/redis: sweep get: %w", getErr)
		}
		if len(vals) == 0 {
			// Hash TTL already reclaimed the record; drop the index entry.
			s.client.SRem(ctx, jobIDsKey, jID) //nolint:errcheck // best-effort prune
			continue
		}

		j, convErr := mapToJob(vals)
		if convErr != nil || j.CreatedAt.Before(cutoff) {
			jobID, parseErr := id.ParseJobID(jID)
			if parseErr != nil {
				// Corrupt index member; remove it directly.
				pipe := s.client.TxPipeline()
				pipe.Del(ctx, jobKey(jID))
				pipe.SRem(ctx, jobIDsKey, jID)
				if _, pErr := pipe.Exec(ctx); pErr != nil {
					return removed, fmt.Errorf("forgeq/redis: sweep del: %w", pErr)
				}
			} else if delErr := s.DeleteJob(ctx, jobID); delErr != nil {
				return removed, fmt.Errorf("forgeq/redis: sweep del: %w", delErr)
			}
			removed++
		}
	}
	return removed, nil
}

// ── helpers ──

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":          j.ID.String(),
		"user_id":     j.UserID,
		"type":        j.Type,
		"payload":     string(j.Payload),
		"priority":    strconv.Itoa(int(j.Priority)),
		"status":      string(j.Status),
		"metadata":    marshalJSON(j.Metadata),
		"retry_count": strconv.Itoa(j.RetryCount),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"timeout":     strconv.FormatInt(int64(j.Timeout), 10),
		"error":       j.ErrorMessage,
		"progress":    strconv.FormatFloat(j.Progress, 'f', -1, 64),
		"created_at":  j.CreatedAt.Format(time.RFC3339Nano),
	}
	if j.ScheduledAt != nil {
		m["scheduled_at"] = j.ScheduledAt.Format(time.RFC3339Nano)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("forgeq/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, forgeq.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("forgeq/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"])               //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)          //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.ParseFloat(m["progress"], 64)          //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:           jID,
		UserID:       m["user_id"],
		Type:         m["type"],
		Payload:      []byte(m["payload"]),
		Priority:     job.Priority(priority),
		Status:       job.Status(m["status"]),
		Metadata:     unmarshalMap(m["metadata"]),
		CreatedAt:    createdAt,
		RetryCount:   retryCount,
		MaxRetries:   maxRetries,
		Timeout:      time.Duration(timeout),
		ErrorMessage: m["error"],
		Progress:     progress,
	}

	if v := m["scheduled_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.ScheduledAt = &t
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}

	return j, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalMap parses a JSON map.
func unmarshalMap(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
