package trace

import (
	"time"

	"gorm.io/datatypes"
)

// 运行终态与进行态
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// IsTerminal 判断状态是否为终态
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Trace 一次 Agent 任务运行的完整记录
// 追加写入：子记录（步骤、模型调用、工具调用）只增不改，汇总计数用原子自增维护
type Trace struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index"`
	AgentID  string `json:"agentId" gorm:"type:uuid;not null;index:idx_traces_agent_started"`

	AgentType string `json:"agentType" gorm:"size:100"`
	TaskType  string `json:"taskType" gorm:"size:100"` // 任务类别，如 draft_email, update_crm

	Status string `json:"status" gorm:"size:32;not null;default:running;index"`

	Input  string `json:"input" gorm:"type:text"`  // 任务输入摘要
	Output string `json:"output" gorm:"type:text"` // 最终产出

	// 时间
	StartedAt  time.Time  `json:"startedAt" gorm:"not null;index:idx_traces_agent_started"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	DurationMs int64      `json:"durationMs"`

	// 汇总计数（gorm.Expr 自增）
	StepCount        int     `json:"stepCount" gorm:"default:0"`
	LLMCallCount     int     `json:"llmCallCount" gorm:"column:llm_call_count;default:0"`
	ToolCallCount    int     `json:"toolCallCount" gorm:"default:0"`
	PromptTokens     int     `json:"promptTokens" gorm:"default:0"`
	CompletionTokens int     `json:"completionTokens" gorm:"default:0"`
	TotalTokens      int     `json:"totalTokens" gorm:"default:0"`
	CostUSD          float64 `json:"costUsd" gorm:"column:cost_usd;type:decimal(12,6);default:0"`

	// 失败信息
	ErrorMessage string `json:"errorMessage,omitempty" gorm:"type:text"`
	FailureMode  string `json:"failureMode,omitempty" gorm:"size:100;index"` // 归一化的失败类别

	// 评估摘要（终结时由评估结果回填）
	EvalID       string  `json:"evalId,omitempty" gorm:"type:uuid"`
	EvalDecision string  `json:"evalDecision,omitempty" gorm:"size:32;index"` // auto_send, needs_review, blocked
	EvalScore    float64 `json:"evalScore" gorm:"type:decimal(5,2);default:0"`

	// 人工反馈
	FeedbackRating  *int       `json:"feedbackRating,omitempty"` // 1-5
	FeedbackComment string     `json:"feedbackComment,omitempty" gorm:"type:text"`
	FeedbackAt      *time.Time `json:"feedbackAt,omitempty"`

	// 审批人编辑产出时记录的统一 diff
	EditDiff string `json:"editDiff,omitempty" gorm:"type:text"`

	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TraceStep 运行中的一个步骤
type TraceStep struct {
	ID      string `json:"id" gorm:"primaryKey;type:uuid"`
	TraceID string `json:"traceId" gorm:"type:uuid;not null;index"`

	Seq    int    `json:"seq" gorm:"not null"`    // 步骤序号，从 1 开始
	Name   string `json:"name" gorm:"size:255"`   // 步骤名称
	Kind   string `json:"kind" gorm:"size:32"`    // plan, llm, tool, output
	Status string `json:"status" gorm:"size:32"`  // success, error

	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	DurationMs int64      `json:"durationMs"`

	Payload datatypes.JSON `json:"payload,omitempty" gorm:"type:jsonb"` // 调用方自定义内容
	Error   string         `json:"error,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// LLMCall 一次模型调用记录
type LLMCall struct {
	ID      string `json:"id" gorm:"primaryKey;type:uuid"`
	TraceID string `json:"traceId" gorm:"type:uuid;not null;index"`
	StepID  string `json:"stepId,omitempty" gorm:"type:uuid"`

	Model       string  `json:"model" gorm:"size:100;not null"`
	Temperature float64 `json:"temperature" gorm:"type:decimal(3,2)"`

	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	TokensEstimated  bool `json:"tokensEstimated"` // 模型未返回用量时由 tiktoken 估算

	CostUSD   float64 `json:"costUsd" gorm:"column:cost_usd;type:decimal(12,6)"`
	LatencyMs int64   `json:"latencyMs"`

	FinishReason string `json:"finishReason,omitempty" gorm:"size:50"`
	Error        string `json:"error,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// ToolCall 一次工具调用记录
type ToolCall struct {
	ID      string `json:"id" gorm:"primaryKey;type:uuid"`
	TraceID string `json:"traceId" gorm:"type:uuid;not null;index"`
	StepID  string `json:"stepId,omitempty" gorm:"type:uuid"`

	ToolName string         `json:"toolName" gorm:"size:100;not null;index"`
	Args     datatypes.JSON `json:"args,omitempty" gorm:"type:jsonb"`
	Result   string         `json:"result,omitempty" gorm:"type:text"` // 截断后的结果摘要

	Status    string `json:"status" gorm:"size:32"` // success, error
	Error     string `json:"error,omitempty" gorm:"type:text"`
	LatencyMs int64  `json:"latencyMs"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}
