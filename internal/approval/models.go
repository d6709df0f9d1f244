package approval

import "time"

// 审批请求状态
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// 审批动作
const (
	ActionApprove        = "approve"
	ActionEditAndApprove = "edit_and_approve"
	ActionReject         = "reject"
)

// Request 人工审批请求
// 评估决策为 needs_review 的产出在此排队等待处理
type Request struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index"`
	AgentID  string `json:"agentId" gorm:"type:uuid;not null;index"`
	TraceID  string `json:"traceId" gorm:"type:uuid;not null;index"`
	EvalID   string `json:"evalId" gorm:"type:uuid;not null"`

	TaskType string `json:"taskType" gorm:"size:100"`
	Input    string `json:"input" gorm:"type:text"`  // 任务输入摘要，审批人看上下文用
	Output   string `json:"output" gorm:"type:text"` // 待审产出快照

	ReviewReason string `json:"reviewReason" gorm:"type:text"` // 评估器给出的降级原因

	Status string `json:"status" gorm:"size:32;not null;default:pending;index"`

	// 处理结果
	Action       string     `json:"action,omitempty" gorm:"size:32"`
	ReviewedBy   string     `json:"reviewedBy,omitempty" gorm:"size:100"`
	ReviewNote   string     `json:"reviewNote,omitempty" gorm:"type:text"`
	EditedOutput string     `json:"editedOutput,omitempty" gorm:"type:text"`
	DecidedAt    *time.Time `json:"decidedAt,omitempty"`

	ExpiresAt *time.Time `json:"expiresAt,omitempty" gorm:"index"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}
