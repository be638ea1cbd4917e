package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gameforge/forgeq/job"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		logger.Info("job started",
			slog.String("job_type", j.Type),
			slog.String("job_id", j.ID.String()),
			slog.String("user_id", j.UserID),
			slog.String("priority", j.Priority.String()),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job failed",
				slog.String("job_type", j.Type),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_type", j.Type),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
