package optimize

import (
	"time"

	"gorm.io/datatypes"

	"backend/internal/trace"
)

// 提案类型
const (
	ProposalTypePromptRefinement  = "prompt_refinement"
	ProposalTypeModelDowngrade    = "model_downgrade"
	ProposalTypeModelUpgrade      = "model_upgrade"
	ProposalTypeAddTool           = "add_tool"
	ProposalTypeRemoveTool        = "remove_tool"
	ProposalTypeAddRAG            = "add_rag"
	ProposalTypeAdjustTemperature = "adjust_temperature"
)

// 提案生命周期状态
const (
	ProposalStatusPending  = "pending"
	ProposalStatusApproved = "approved"
	ProposalStatusRejected = "rejected"
	ProposalStatusApplied  = "applied"
)

// Proposal 配置修改提案
// 分析器产出，人工审批后由应用分发表落到 Agent 配置
type Proposal struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index"`
	AgentID  string `json:"agentId" gorm:"type:uuid;not null;index"`

	Type   string `json:"type" gorm:"size:50;not null"`
	Status string `json:"status" gorm:"size:32;not null;default:pending;index"`

	// 提案依据：由窗口指标推导，说明为什么提、预期改善什么
	Rationale       string  `json:"rationale" gorm:"type:text"`
	EstimatedImpact string  `json:"estimatedImpact" gorm:"type:text"`
	SavingsUSD      float64 `json:"savingsUsd" gorm:"column:savings_usd;type:decimal(12,4);default:0"`

	// 类型化变更内容，按 Type 解码
	Change datatypes.JSON `json:"change" gorm:"type:jsonb"`

	// 审批
	ReviewedBy string     `json:"reviewedBy,omitempty" gorm:"size:100"`
	ReviewNote string     `json:"reviewNote,omitempty" gorm:"type:text"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`

	// 应用
	AppliedAt  *time.Time `json:"appliedAt,omitempty"`
	ApplyError string     `json:"applyError,omitempty" gorm:"type:text"` // 应用失败原因，状态保持 approved

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// PromptRefinementChange 提示词改写变更
type PromptRefinementChange struct {
	OldPrompt string `json:"oldPrompt"`
	NewPrompt string `json:"newPrompt"`
}

// ModelDowngradeChange 模型降档变更
type ModelDowngradeChange struct {
	FromModel string `json:"fromModel"`
	ToModel   string `json:"toModel"`
	ToTier    string `json:"toTier"`
}

// ModelUpgradeChange 模型升档变更
type ModelUpgradeChange struct {
	FromModel string `json:"fromModel"`
	ToModel   string `json:"toModel"`
	ToTier    string `json:"toTier"`
}

// AddToolChange 新增工具变更
type AddToolChange struct {
	ToolName string `json:"toolName"`
}

// RemoveToolChange 移除工具变更
type RemoveToolChange struct {
	ToolName       string   `json:"toolName"`
	RemainingTools []string `json:"remainingTools"`
}

// AddRAGChange 启用检索增强变更
type AddRAGChange struct {
	TopK     int     `json:"topK"`
	MinScore float64 `json:"minScore"`
}

// AdjustTemperatureChange 温度调整变更
type AdjustTemperatureChange struct {
	FromTemperature float64 `json:"fromTemperature"`
	ToTemperature   float64 `json:"toTemperature"`
}

// ============================================================================
// A/B 实验
// ============================================================================

// A/B 实验状态
const (
	ABStatusRunning   = "running"
	ABStatusCompleted = "completed"
	ABStatusCancelled = "cancelled"
)

// A/B 变体
const (
	VariantA = "A" // 现行配置
	VariantB = "B" // 提案配置
)

// ABTest 配置变更的 A/B 实验
// 样本分数用增量累加维护，胜者判定前两个变体都必须攒够最小样本数
type ABTest struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID   string `json:"tenantId" gorm:"type:uuid;not null;index"`
	AgentID    string `json:"agentId" gorm:"type:uuid;not null;index"`
	ProposalID string `json:"proposalId" gorm:"type:uuid;not null"`

	Name   string `json:"name" gorm:"size:255"`
	Status string `json:"status" gorm:"size:32;not null;default:running;index"`

	TrafficSplit float64 `json:"trafficSplit" gorm:"type:decimal(3,2);default:0.5"` // 分给 B 的流量比例

	VariantAConfig datatypes.JSON `json:"variantAConfig,omitempty" gorm:"type:jsonb"` // 现行配置快照
	VariantBConfig datatypes.JSON `json:"variantBConfig,omitempty" gorm:"type:jsonb"` // 提案变更快照

	ASamples  int64   `json:"aSamples" gorm:"column:a_samples;default:0"`
	BSamples  int64   `json:"bSamples" gorm:"column:b_samples;default:0"`
	AScoreSum float64 `json:"aScoreSum" gorm:"column:a_score_sum;type:decimal(14,4);default:0"`
	BScoreSum float64 `json:"bScoreSum" gorm:"column:b_score_sum;type:decimal(14,4);default:0"`

	MinSamples int    `json:"minSamples" gorm:"default:50"`
	Winner     string `json:"winner,omitempty" gorm:"size:8"`

	StartedAt time.Time  `json:"startedAt" gorm:"not null"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// AvgScore 变体平均分
func (t *ABTest) AvgScore(variant string) float64 {
	switch variant {
	case VariantA:
		if t.ASamples == 0 {
			return 0
		}
		return t.AScoreSum / float64(t.ASamples)
	case VariantB:
		if t.BSamples == 0 {
			return 0
		}
		return t.BScoreSum / float64(t.BSamples)
	}
	return 0
}

// ============================================================================
// 分析报告
// ============================================================================

// ComplaintCategory 投诉类别统计
type ComplaintCategory struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Report 单个 Agent 的窗口性能报告
type Report struct {
	AgentID     string    `json:"agentId"`
	TenantID    string    `json:"tenantId"`
	GeneratedAt time.Time `json:"generatedAt"`

	Window *trace.WindowStats `json:"window"`

	FailureModes []trace.FailureModeCount `json:"failureModes,omitempty"` // 占比达到阈值的失败类别
	ToolStats    []trace.ToolStat         `json:"toolStats,omitempty"`
	Complaints   []ComplaintCategory      `json:"complaints,omitempty"`

	HallucinationRate float64 `json:"hallucinationRate"` // 评审发现无依据声明的评估占比

	InsufficientData bool `json:"insufficientData"` // 窗口内没有运行
	PerformingWell   bool `json:"performingWell"`   // 达到健康线，只考虑降本类提案
}
