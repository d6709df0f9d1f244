package eval

import (
	"time"

	"gorm.io/datatypes"
)

// 三级门禁的最终决策
const (
	DecisionAutoSend    = "auto_send"    // 直接放行执行
	DecisionNeedsReview = "needs_review" // 进入人工审批队列
	DecisionBlocked     = "blocked"      // 拦截，不执行
)

// 断言严重级别
const (
	SeverityBlock = "block" // 失败即拦截
	SeverityWarn  = "warn"  // 失败降级为人工审批
	SeverityInfo  = "info"  // 仅记录
)

// L3 评审判定
const (
	VerdictPass  = "pass"
	VerdictFail  = "fail"
	VerdictRetry = "retry" // 评审模型输出不可用，要求重试
)

// 审批终态动作（人工处理 needs_review 之后回填）
const (
	UserActionApproved = "approved"
	UserActionEdited   = "edited"
	UserActionRejected = "rejected"
)

// AssertionResult L1 单条断言结果
type AssertionResult struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// CriterionScore L2 单条准则得分
type CriterionScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`           // 0-100
	Error string  `json:"error,omitempty"` // 表达式失败时保守计 0 分并记录原因
}

// Claim L3 评审提取的事实声明
type Claim struct {
	Text     string `json:"text"`
	Grounded bool   `json:"grounded"` // 是否有输入依据
}

// EvalResult 一次产出评估的完整结果
type EvalResult struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index"`
	AgentID  string `json:"agentId" gorm:"type:uuid;not null;index"`
	TraceID  string `json:"traceId" gorm:"type:uuid;index"`

	// L1 确定性断言
	L1Passed  bool           `json:"l1Passed" gorm:"column:l1_passed"`
	L1Results datatypes.JSON `json:"l1Results,omitempty" gorm:"column:l1_results;type:jsonb"`

	// L2 规则打分，聚合取各准则最小值
	L2Score  float64        `json:"l2Score" gorm:"column:l2_score;type:decimal(5,2)"`
	L2Scores datatypes.JSON `json:"l2Scores,omitempty" gorm:"column:l2_scores;type:jsonb"`

	// L3 模型评审
	JudgeTriggered  bool           `json:"judgeTriggered"`
	JudgeVerdict    string         `json:"judgeVerdict,omitempty" gorm:"size:32"`
	JudgeConfidence float64        `json:"judgeConfidence" gorm:"type:decimal(4,3)"`
	JudgeClaims     datatypes.JSON `json:"judgeClaims,omitempty" gorm:"type:jsonb"`
	JudgeError      string         `json:"judgeError,omitempty" gorm:"type:text"`

	FinalDecision string `json:"finalDecision" gorm:"size:32;not null;index"`
	Notes         string `json:"notes,omitempty" gorm:"type:text"` // 系统备注，如评审失败降级原因

	// 人工审批终态动作
	UserAction   string     `json:"userAction,omitempty" gorm:"size:32"`
	UserActionAt *time.Time `json:"userActionAt,omitempty"`

	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}
