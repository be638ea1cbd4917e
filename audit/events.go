package audit

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued  = "job.enqueued"
	ActionJobStarted   = "job.started"
	ActionJobCompleted = "job.completed"
	ActionJobFailed    = "job.failed"
	ActionJobRetrying  = "job.retrying"
	ActionJobCancelled = "job.cancelled"
	ActionJobDLQ       = "job.dlq"
)

// CategoryJob groups all job lifecycle actions.
const CategoryJob = "forgeq.job"

// ResourceJob is the resource type used in job audit events.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobCancelled,
		ActionJobDLQ,
	}
}
