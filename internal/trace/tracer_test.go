package trace

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"backend/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Trace{}, &TraceStep{}, &LLMCall{}, &ToolCall{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM tool_calls")
		db.Exec("DELETE FROM llm_calls")
		db.Exec("DELETE FROM trace_steps")
		db.Exec("DELETE FROM traces")
	})
	return db
}

func startTestTrace(t *testing.T, tracer *Tracer) string {
	id := tracer.StartTrace(context.Background(), StartOptions{
		TenantID:  "tenant-1",
		AgentID:   "agent-1",
		AgentType: "email_drafter",
		TaskType:  "draft_email",
		Input:     "customer asks about refund",
	})
	require.NotEmpty(t, id)
	return id
}

func TestStartTraceAndRecords(t *testing.T) {
	db := setupTestDB(t)
	tracer := NewTracer(db)
	ctx := context.Background()

	id := startTestTrace(t, tracer)

	now := time.Now()
	tracer.RecordStep(ctx, id, StepEvent{Name: "plan", Kind: "plan", Status: "success", EndedAt: &now})
	tracer.RecordStep(ctx, id, StepEvent{Name: "draft", Kind: "llm", Status: "success", EndedAt: &now})
	tracer.RecordLLMCall(ctx, id, LLMCallEvent{
		Model:            "gpt-4o-mini",
		PromptTokens:     120,
		CompletionTokens: 80,
		LatencyMs:        900,
	})
	tracer.RecordToolCall(ctx, id, ToolCallEvent{
		ToolName: "crm_lookup",
		Args:     map[string]any{"customer_id": "c-42"},
		Result:   "order found",
	})

	var tr Trace
	require.NoError(t, db.First(&tr, "id = ?", id).Error)
	assert.Equal(t, StatusRunning, tr.Status)
	assert.Equal(t, 2, tr.StepCount)
	assert.Equal(t, 1, tr.LLMCallCount)
	assert.Equal(t, 1, tr.ToolCallCount)
	assert.Equal(t, 200, tr.TotalTokens)
	assert.Greater(t, tr.CostUSD, 0.0)

	var steps []TraceStep
	require.NoError(t, db.Where("trace_id = ?", id).Order("seq ASC").Find(&steps).Error)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Seq)
	assert.Equal(t, 2, steps[1].Seq)

	var call ToolCall
	require.NoError(t, db.First(&call, "trace_id = ?", id).Error)
	assert.Equal(t, "success", call.Status)
}

func TestTokenEstimationFallback(t *testing.T) {
	db := setupTestDB(t)
	tracer := NewTracer(db)
	id := startTestTrace(t, tracer)

	tracer.RecordLLMCall(context.Background(), id, LLMCallEvent{
		Model:          "gpt-4o-mini",
		PromptText:     "Summarize the customer complaint about delayed delivery.",
		CompletionText: "The customer is unhappy about a late package.",
	})

	var call LLMCall
	require.NoError(t, db.First(&call, "trace_id = ?", id).Error)
	assert.True(t, call.TokensEstimated)
	assert.Greater(t, call.PromptTokens, 0)
	assert.Greater(t, call.CompletionTokens, 0)
	assert.Equal(t, call.PromptTokens+call.CompletionTokens, call.TotalTokens)
}

func TestCompleteTraceIdempotent(t *testing.T) {
	db := setupTestDB(t)
	tracer := NewTracer(db)
	ctx := context.Background()
	id := startTestTrace(t, tracer)

	tracer.CompleteTrace(ctx, id, "Dear customer, ...", &EvalSummary{
		EvalID:   "eval-1",
		Decision: "auto_send",
		Score:    92,
	})

	var tr Trace
	require.NoError(t, db.First(&tr, "id = ?", id).Error)
	assert.Equal(t, StatusCompleted, tr.Status)
	assert.Equal(t, "auto_send", tr.EvalDecision)
	require.NotNil(t, tr.EndedAt)
	firstEnd := *tr.EndedAt

	// 重复终结是空操作
	tracer.CompleteTrace(ctx, id, "changed output", nil)
	// 终结后换一种终态也不生效
	tracer.FailTrace(ctx, id, "late failure", "")

	require.NoError(t, db.First(&tr, "id = ?", id).Error)
	assert.Equal(t, StatusCompleted, tr.Status)
	assert.Equal(t, "Dear customer, ...", tr.Output)
	assert.Equal(t, "auto_send", tr.EvalDecision)
	assert.WithinDuration(t, firstEnd, *tr.EndedAt, time.Millisecond)
}

func TestLateEventsKeepFinalizedCounters(t *testing.T) {
	db := setupTestDB(t)
	tracer := NewTracer(db)
	ctx := context.Background()
	id := startTestTrace(t, tracer)

	tracer.RecordLLMCall(ctx, id, LLMCallEvent{Model: "gpt-4o-mini", PromptTokens: 100, CompletionTokens: 50})
	tracer.CompleteTrace(ctx, id, "done", nil)

	var before Trace
	require.NoError(t, db.First(&before, "id = ?", id).Error)

	// 终结后晚到的事件只落明细，汇总计数保持不变
	tracer.RecordLLMCall(ctx, id, LLMCallEvent{Model: "gpt-4o-mini", PromptTokens: 999, CompletionTokens: 999})
	tracer.RecordToolCall(ctx, id, ToolCallEvent{ToolName: "crm_lookup", Status: "success"})

	var after Trace
	require.NoError(t, db.First(&after, "id = ?", id).Error)
	assert.Equal(t, before.LLMCallCount, after.LLMCallCount)
	assert.Equal(t, before.ToolCallCount, after.ToolCallCount)
	assert.Equal(t, before.TotalTokens, after.TotalTokens)
	assert.Equal(t, before.CostUSD, after.CostUSD)
}

func TestFailAndCancel(t *testing.T) {
	db := setupTestDB(t)
	tracer := NewTracer(db)
	ctx := context.Background()

	failed := startTestTrace(t, tracer)
	tracer.FailTrace(ctx, failed, "tool crm_lookup returned 500", FailureModeToolError)

	cancelled := startTestTrace(t, tracer)
	tracer.CancelTrace(ctx, cancelled, "operator cancelled batch")

	var tr Trace
	require.NoError(t, db.First(&tr, "id = ?", failed).Error)
	assert.Equal(t, StatusFailed, tr.Status)
	assert.Equal(t, FailureModeToolError, tr.FailureMode)

	var tr2 Trace
	require.NoError(t, db.First(&tr2, "id = ?", cancelled).Error)
	assert.Equal(t, StatusCancelled, tr2.Status)
	assert.Equal(t, "operator cancelled batch", tr2.ErrorMessage)
}

func TestWatchDeadline(t *testing.T) {
	db := setupTestDB(t)
	tracer := NewTracer(db)
	ctx := context.Background()
	id := startTestTrace(t, tracer)

	tracer.WatchDeadline(ctx, id, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		var tr Trace
		if err := db.First(&tr, "id = ?", id).Error; err != nil {
			return false
		}
		return tr.Status == StatusTimeout
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchDeadlineCancelledBeforeBudget(t *testing.T) {
	db := setupTestDB(t)
	tracer := NewTracer(db)
	id := startTestTrace(t, tracer)

	watchCtx, cancel := context.WithCancel(context.Background())
	tracer.WatchDeadline(watchCtx, id, 50*time.Millisecond)

	tracer.CompleteTrace(context.Background(), id, "done", nil)
	cancel()

	time.Sleep(100 * time.Millisecond)
	var tr Trace
	require.NoError(t, db.First(&tr, "id = ?", id).Error)
	assert.Equal(t, StatusCompleted, tr.Status)
}

func TestCategorizeFailure(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"context deadline exceeded", FailureModeTimeout},
		{"openai: 429 Too Many Requests", FailureModeRateLimit},
		{"maximum context length exceeded", FailureModeContextLength},
		{"invalid json in model output", FailureModeBadOutput},
		{"tool email_send failed", FailureModeToolError},
		{"model returned api error", FailureModeLLMError},
		{"", FailureModeUnknown},
		{"something odd", FailureModeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CategorizeFailure(tc.msg), tc.msg)
	}
}

func TestRunHooks(t *testing.T) {
	db := setupTestDB(t)
	tracer := NewTracer(db)
	ctx := context.Background()
	id := startTestTrace(t, tracer)

	hooks := NewRunHooks(tracer, id)
	assert.Equal(t, id, hooks.TraceID())

	hooks.OnStepStart("lookup order", "tool")
	hooks.OnToolCall(ctx, ToolCallEvent{ToolName: "crm_lookup", Status: "success"})
	hooks.OnStepComplete(ctx, map[string]any{"order_id": "o-7"}, nil)

	var tr Trace
	require.NoError(t, db.First(&tr, "id = ?", id).Error)
	assert.Equal(t, 1, tr.StepCount)
	assert.Equal(t, 1, tr.ToolCallCount)

	var step TraceStep
	require.NoError(t, db.First(&step, "trace_id = ?", id).Error)
	assert.Equal(t, "lookup order", step.Name)
	assert.Equal(t, "success", step.Status)
}
