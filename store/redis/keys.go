package redis

// Redis key naming conventions for forgeq data.
// All keys are prefixed with "forgeq:" to avoid collisions.

const keyPrefix = "forgeq:"

// ── Job keys ──

// jobKey returns the key for a job record Hash: forgeq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// resultKey returns the key for a job's result blob: forgeq:result:{id}
func resultKey(id string) string { return keyPrefix + "result:" + id }

// jobIDsKey is the Set tracking all job IDs for sweep enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Queue keys ──

// activeKey returns the List key for a priority's active queue:
// forgeq:queue:{priority}:active. Push and pop both work the head,
// so equal-priority jobs drain newest-first.
func activeKey(priority string) string {
	return keyPrefix + "queue:" + priority + ":active"
}

// delayedKey returns the Sorted Set key for a priority's delayed jobs,
// scored by due time: forgeq:queue:{priority}:delayed
func delayedKey(priority string) string {
	return keyPrefix + "queue:" + priority + ":delayed"
}

// ── User keys ──

// userJobsKey returns the Set key for a user's live jobs: forgeq:user:{id}:jobs
func userJobsKey(userID string) string {
	return keyPrefix + "user:" + userID + ":jobs"
}

// rateKey returns the key for one rate-limit window counter:
// forgeq:rate:{userID}:{window}:{bucket}
func rateKey(userID, window, bucket string) string {
	return keyPrefix + "rate:" + userID + ":" + window + ":" + bucket
}

// ── DLQ keys ──

// dlqKey is the List holding encoded DLQ entries, newest first.
const dlqKey = keyPrefix + "dlq"
