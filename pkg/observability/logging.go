package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/stepflow/pkg/domain"
)

// LogHooks returns lifecycle hooks writing one structured record per event.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnter: func(ctx context.Context, e *domain.StepEvent) {
			logger.InfoContext(ctx, "step_enter", "flow", e.FlowID, "instance", e.InstanceID, "step", e.StepID)
		},
		OnStepLeave: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step_leave", "flow", e.FlowID, "instance", e.InstanceID, "step", e.StepID)
		},
		OnRejected: func(ctx context.Context, e *domain.RejectEvent) {
			logger.InfoContext(ctx, "rejected",
				"flow", e.FlowID,
				"instance", e.InstanceID,
				"op", e.Op,
				"step", e.StepID,
				"reason", Reason(e.Err),
				"error", e.Err,
			)
		},
		OnCallStart: func(ctx context.Context, e *domain.CallEvent) {
			logger.DebugContext(ctx, "call_start", "instance", e.InstanceID, "operation", e.Operation)
		},
		OnCallReturn: func(ctx context.Context, e *domain.CallEvent) {
			logger.InfoContext(ctx, "call_return",
				"instance", e.InstanceID,
				"operation", e.Operation,
				"duration", e.Duration,
				"is_error", e.IsError,
			)
		},
		OnSubmitted: func(ctx context.Context, e *domain.StepEvent) {
			logger.InfoContext(ctx, "submitted", "flow", e.FlowID, "instance", e.InstanceID)
		},
	}
}
