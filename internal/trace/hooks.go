package trace

import (
	"context"
	"time"
)

// RunHooks Agent 运行时回调面
// 运行时持有一个实例并在步骤和工具调用边界上调用，背后写入追踪器
type RunHooks struct {
	tracer  *Tracer
	traceID string

	stepStart time.Time
	stepName  string
	stepKind  string
}

// NewRunHooks 为一次运行创建回调实例
func NewRunHooks(tracer *Tracer, traceID string) *RunHooks {
	return &RunHooks{tracer: tracer, traceID: traceID}
}

// TraceID 返回关联的追踪 ID
func (h *RunHooks) TraceID() string { return h.traceID }

// OnStepStart 步骤开始
func (h *RunHooks) OnStepStart(name, kind string) {
	h.stepStart = time.Now()
	h.stepName = name
	h.stepKind = kind
}

// OnStepComplete 步骤结束，payload 为运行时自定义内容
func (h *RunHooks) OnStepComplete(ctx context.Context, payload map[string]any, stepErr error) {
	now := time.Now()
	ev := StepEvent{
		Name:      h.stepName,
		Kind:      h.stepKind,
		Status:    "success",
		StartedAt: h.stepStart,
		EndedAt:   &now,
		Payload:   payload,
	}
	if stepErr != nil {
		ev.Status = "error"
		ev.Error = stepErr.Error()
	}
	h.tracer.RecordStep(ctx, h.traceID, ev)
}

// OnLLMCall 模型调用结束
func (h *RunHooks) OnLLMCall(ctx context.Context, ev LLMCallEvent) {
	h.tracer.RecordLLMCall(ctx, h.traceID, ev)
}

// OnToolCall 工具调用结束
func (h *RunHooks) OnToolCall(ctx context.Context, ev ToolCallEvent) {
	h.tracer.RecordToolCall(ctx, h.traceID, ev)
}
