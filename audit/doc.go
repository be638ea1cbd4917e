// Package audit is a forgeq extension that bridges job lifecycle events
// to an audit trail backend.
//
// Every lifecycle hook emits a structured audit event through the
// [Recorder] interface. The extension assigns appropriate severity levels
// (info for normal operations, warning for retries and cancellations,
// critical for terminal failures) and rich metadata (job type, owner,
// priority, elapsed time, errors).
//
// The package ships an in-memory [Trail] recorder that keeps a bounded
// history of recent events for inspection. Production deployments can
// bridge to an external audit system with a [RecorderFunc]:
//
//	audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.Event) error {
//	    return backend.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionJobFailed,
//	        audit.ActionJobDLQ,
//	    ),
//	)
package audit
