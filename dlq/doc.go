// Package dlq provides the dead letter queue for jobs that have exhausted
// their retry budget. It supports inspection, replay, and purging.
//
// When a job fails and MaxRetries has been reached, the queue manager
// calls [Service.Push] to archive it. The original payload, error message,
// and retry counts are preserved for offline diagnosis; nothing is ever
// silently dropped.
//
// The queue is bounded: pushes beyond the cap trim the oldest entries, and
// a periodic cleanup rewrites the archive keeping only entries younger
// than the retention window.
package dlq
