package trace

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"backend/internal/logger"
	"backend/internal/metrics"
)

// Tracer 运行追踪器
// 所有写入都是尽力而为：持久化失败只记日志和指标，绝不把错误抛回业务运行，
// 追踪故障不能挡住 Agent 正常干活
type Tracer struct {
	db *gorm.DB

	// 活跃运行的步骤序号，终结时清理
	stepSeq sync.Map // traceID -> *int64
}

// NewTracer 创建追踪器
func NewTracer(db *gorm.DB) *Tracer {
	return &Tracer{db: db}
}

// StartOptions 运行开始参数
type StartOptions struct {
	TenantID  string
	AgentID   string
	AgentType string
	TaskType  string
	Input     string
	Metadata  map[string]any
}

// StepEvent 步骤事件
type StepEvent struct {
	Name      string
	Kind      string // plan, llm, tool, output
	Status    string // success, error
	StartedAt time.Time
	EndedAt   *time.Time
	Payload   map[string]any
	Error     string
}

// LLMCallEvent 模型调用事件
// 调用方未提供 token 用量时，由 Prompt/Completion 文本经 tiktoken 估算
type LLMCallEvent struct {
	StepID           string
	Model            string
	Temperature      float64
	PromptTokens     int
	CompletionTokens int
	PromptText       string
	CompletionText   string
	LatencyMs        int64
	FinishReason     string
	Error            string
}

// ToolCallEvent 工具调用事件
type ToolCallEvent struct {
	StepID    string
	ToolName  string
	Args      map[string]any
	Result    string
	Status    string // success, error
	Error     string
	LatencyMs int64
}

// EvalSummary 终结时回填到运行记录的评估摘要
type EvalSummary struct {
	EvalID   string
	Decision string
	Score    float64
}

// StartTrace 开始一次运行追踪，返回追踪 ID
// 即使落库失败也返回可用的 ID，后续写入各自尽力
func (t *Tracer) StartTrace(ctx context.Context, opts StartOptions) string {
	id := uuid.New().String()
	tr := &Trace{
		ID:        id,
		TenantID:  opts.TenantID,
		AgentID:   opts.AgentID,
		AgentType: opts.AgentType,
		TaskType:  opts.TaskType,
		Status:    StatusRunning,
		Input:     opts.Input,
		StartedAt: time.Now(),
		Metadata:  marshalJSON(opts.Metadata),
	}
	if err := t.db.WithContext(ctx).Create(tr).Error; err != nil {
		t.writeFailed("start_trace", id, err)
	} else {
		metrics.TraceWritesTotal.WithLabelValues("start_trace", "ok").Inc()
	}
	t.stepSeq.Store(id, new(int64))
	return id
}

// RecordStep 记录一个步骤
func (t *Tracer) RecordStep(ctx context.Context, traceID string, ev StepEvent) {
	seq := t.nextSeq(traceID)
	step := &TraceStep{
		ID:        uuid.New().String(),
		TraceID:   traceID,
		Seq:       seq,
		Name:      ev.Name,
		Kind:      ev.Kind,
		Status:    ev.Status,
		StartedAt: ev.StartedAt,
		EndedAt:   ev.EndedAt,
		Payload:   marshalJSON(ev.Payload),
		Error:     ev.Error,
	}
	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now()
	}
	if ev.EndedAt != nil {
		step.DurationMs = ev.EndedAt.Sub(step.StartedAt).Milliseconds()
	}

	if err := t.db.WithContext(ctx).Create(step).Error; err != nil {
		t.writeFailed("record_step", traceID, err)
		return
	}
	t.bumpCounters(ctx, traceID, "record_step", map[string]any{
		"step_count": gorm.Expr("step_count + 1"),
	})
}

// RecordLLMCall 记录一次模型调用，缺失的 token 用量用 tiktoken 估算
func (t *Tracer) RecordLLMCall(ctx context.Context, traceID string, ev LLMCallEvent) {
	call := &LLMCall{
		ID:               uuid.New().String(),
		TraceID:          traceID,
		StepID:           ev.StepID,
		Model:            ev.Model,
		Temperature:      ev.Temperature,
		PromptTokens:     ev.PromptTokens,
		CompletionTokens: ev.CompletionTokens,
		LatencyMs:        ev.LatencyMs,
		FinishReason:     ev.FinishReason,
		Error:            ev.Error,
	}
	if call.PromptTokens == 0 && ev.PromptText != "" {
		call.PromptTokens = EstimateTokens(ev.Model, ev.PromptText)
		call.TokensEstimated = true
	}
	if call.CompletionTokens == 0 && ev.CompletionText != "" {
		call.CompletionTokens = EstimateTokens(ev.Model, ev.CompletionText)
		call.TokensEstimated = true
	}
	call.TotalTokens = call.PromptTokens + call.CompletionTokens
	call.CostUSD = EstimateCost(ev.Model, call.PromptTokens, call.CompletionTokens)

	if err := t.db.WithContext(ctx).Create(call).Error; err != nil {
		t.writeFailed("record_llm_call", traceID, err)
		return
	}
	t.bumpCounters(ctx, traceID, "record_llm_call", map[string]any{
		"llm_call_count":    gorm.Expr("llm_call_count + 1"),
		"prompt_tokens":     gorm.Expr("prompt_tokens + ?", call.PromptTokens),
		"completion_tokens": gorm.Expr("completion_tokens + ?", call.CompletionTokens),
		"total_tokens":      gorm.Expr("total_tokens + ?", call.TotalTokens),
		"cost_usd":          gorm.Expr("cost_usd + ?", call.CostUSD),
	})
}

// RecordToolCall 记录一次工具调用
func (t *Tracer) RecordToolCall(ctx context.Context, traceID string, ev ToolCallEvent) {
	call := &ToolCall{
		ID:        uuid.New().String(),
		TraceID:   traceID,
		StepID:    ev.StepID,
		ToolName:  ev.ToolName,
		Args:      marshalJSON(ev.Args),
		Result:    truncate(ev.Result, 4096),
		Status:    ev.Status,
		Error:     ev.Error,
		LatencyMs: ev.LatencyMs,
	}
	if call.Status == "" {
		if call.Error != "" {
			call.Status = "error"
		} else {
			call.Status = "success"
		}
	}

	if err := t.db.WithContext(ctx).Create(call).Error; err != nil {
		t.writeFailed("record_tool_call", traceID, err)
		return
	}
	t.bumpCounters(ctx, traceID, "record_tool_call", map[string]any{
		"tool_call_count": gorm.Expr("tool_call_count + 1"),
	})
}

// CompleteTrace 正常终结运行，附带产出与评估摘要
// 幂等：仅当状态仍为 running 时生效，重复调用是空操作
func (t *Tracer) CompleteTrace(ctx context.Context, traceID, output string, eval *EvalSummary) {
	updates := map[string]any{"output": output}
	if eval != nil {
		updates["eval_id"] = eval.EvalID
		updates["eval_decision"] = eval.Decision
		updates["eval_score"] = eval.Score
	}
	t.finalize(ctx, traceID, StatusCompleted, updates)
}

// FailTrace 以失败终结运行，失败类别缺省时按错误信息归类
func (t *Tracer) FailTrace(ctx context.Context, traceID, errMsg, failureMode string) {
	if failureMode == "" {
		failureMode = CategorizeFailure(errMsg)
	}
	t.finalize(ctx, traceID, StatusFailed, map[string]any{
		"error_message": errMsg,
		"failure_mode":  failureMode,
	})
}

// TimeoutTrace 以超时终结运行
func (t *Tracer) TimeoutTrace(ctx context.Context, traceID string) {
	t.finalize(ctx, traceID, StatusTimeout, map[string]any{
		"error_message": "运行超出时间预算",
		"failure_mode":  FailureModeTimeout,
	})
}

// CancelTrace 以取消终结运行
func (t *Tracer) CancelTrace(ctx context.Context, traceID, reason string) {
	t.finalize(ctx, traceID, StatusCancelled, map[string]any{
		"error_message": reason,
	})
}

// finalize 终结状态机：running -> 终态，条件更新保证幂等
func (t *Tracer) finalize(ctx context.Context, traceID, status string, extra map[string]any) {
	now := time.Now()
	updates := map[string]any{
		"status":   status,
		"ended_at": &now,
	}
	for k, v := range extra {
		updates[k] = v
	}

	var tr Trace
	err := t.db.WithContext(ctx).Select("id", "started_at", "status").
		First(&tr, "id = ?", traceID).Error
	if err == nil {
		updates["duration_ms"] = now.Sub(tr.StartedAt).Milliseconds()
	}

	result := t.db.WithContext(ctx).Model(&Trace{}).
		Where("id = ? AND status = ?", traceID, StatusRunning).
		Updates(updates)
	if result.Error != nil {
		t.writeFailed("finalize", traceID, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		// 已终结或不存在，幂等跳过
		metrics.TraceWritesTotal.WithLabelValues("finalize", "skipped").Inc()
		return
	}
	metrics.TraceWritesTotal.WithLabelValues("finalize", "ok").Inc()
	metrics.TracesFinalizedTotal.WithLabelValues(status).Inc()
	t.stepSeq.Delete(traceID)
}

// WatchDeadline 看门狗：运行超出时间预算且仍在 running 时强制按超时终结
// 即使模型调用挂死不返回，运行也会在预算耗尽后被收尾
func (t *Tracer) WatchDeadline(ctx context.Context, traceID string, budget time.Duration) {
	go func() {
		timer := time.NewTimer(budget)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			// 用独立上下文收尾，调用方的 ctx 可能已取消
			t.TimeoutTrace(context.Background(), traceID)
		}
	}()
}

// bumpCounters 汇总计数自增，追踪已终结时不再累加
func (t *Tracer) bumpCounters(ctx context.Context, traceID, op string, updates map[string]any) {
	result := t.db.WithContext(ctx).Model(&Trace{}).
		Where("id = ? AND status = ?", traceID, StatusRunning).
		Updates(updates)
	if result.Error != nil {
		t.writeFailed(op, traceID, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		// 晚到的事件只落明细，汇总不再动
		metrics.TraceWritesTotal.WithLabelValues(op, "skipped").Inc()
		return
	}
	metrics.TraceWritesTotal.WithLabelValues(op, "ok").Inc()
}

func (t *Tracer) nextSeq(traceID string) int {
	v, _ := t.stepSeq.LoadOrStore(traceID, new(int64))
	return int(atomic.AddInt64(v.(*int64), 1))
}

func (t *Tracer) writeFailed(op, traceID string, err error) {
	metrics.TraceWritesTotal.WithLabelValues(op, "error").Inc()
	logger.Get().Warn("追踪写入失败",
		zap.String("op", op),
		zap.String("trace_id", traceID),
		zap.Error(err))
}

func marshalJSON(m map[string]any) datatypes.JSON {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
