// Package queue implements the job queue manager: admission control,
// priority queues with delayed scheduling, retry orchestration, and
// background maintenance.
//
// The [Manager] sits between the submission surface (API handlers, DLQ
// replay) and the workers. On enqueue it applies per-user rate limits and
// queue overflow protection before a job is accepted. On dequeue it drains
// the priority queues highest-first, promoting due delayed jobs along the
// way. Failed jobs are rescheduled as fresh jobs with exponential backoff
// until their retry budget is exhausted, at which point they are archived
// to the dead letter queue.
//
// Start launches two supervised background loops: a cleanup loop that
// sweeps expired job records and aged DLQ entries, and a monitor loop that
// logs queue depth warnings. Both stop when Stop is called or the start
// context is cancelled.
package queue
