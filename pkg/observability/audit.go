package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/arbor/pkg/domain"
)

// AuditHooks logs every lifecycle event at Info (errors at Error).
func AuditHooks(logger *slog.Logger) domain.LifecycleHooks {
	log := func(ctx context.Context, e *domain.Event) {
		attrs := []any{"event", string(e.Type), "thread_id", e.ThreadID, "step", e.Step}
		if e.Node != "" {
			attrs = append(attrs, "node", e.Node)
		}
		if e.Duration > 0 {
			attrs = append(attrs, "duration", e.Duration)
		}
		if e.Err != nil {
			logger.ErrorContext(ctx, "Lifecycle event", append(attrs, "err", e.Err)...)
			return
		}
		logger.InfoContext(ctx, "Lifecycle event", attrs...)
	}
	return domain.LifecycleHooks{
		OnNodeEnter: log,
		OnNodeLeave: log,
		OnNodeError: log,
		OnSuspend:   log,
		OnResume:    log,
		OnComplete:  log,
	}
}
