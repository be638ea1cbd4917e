// Package job defines the Job record, its priority and status enums, the
// persistence contract for the durable queue backend, and the handler
// registry that maps job types to execution functions.
//
// A Job is a mutable record owned by the queue manager. While live it is in
// exactly one place: a priority's delayed set (scheduled in the future), a
// priority's active list, or processing on a worker. Terminal states
// (completed, failed, cancelled, expired) are final.
package job
