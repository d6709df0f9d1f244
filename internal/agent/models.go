package agent

import "time"

// 模型档位
const (
	TierPremium  = "premium"  // 旗舰模型，成本最高
	TierStandard = "standard" // 均衡档位
	TierEconomy  = "economy"  // 低成本档位
)

// AgentConfig Agent 配置
// 自优化流水线（提案应用、A/B 实验胜者推广）的唯一可变对象
type AgentConfig struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index"`

	// Agent 信息
	AgentType   string `json:"agentType" gorm:"size:100;not null"` // email_drafter, crm_updater, messenger, researcher
	Name        string `json:"name" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`

	// 模型配置
	ModelID   string `json:"modelId" gorm:"column:model_id;size:100;not null"`
	ModelTier string `json:"modelTier" gorm:"column:model_tier;size:32;default:standard"` // premium, standard, economy

	// Prompt
	SystemPrompt string `json:"systemPrompt" gorm:"type:text"` // 系统提示词

	// 参数
	Temperature float64 `json:"temperature" gorm:"type:decimal(3,2);default:0.7"`
	MaxTokens   int     `json:"maxTokens" gorm:"default:4096"`

	// 工具配置
	AllowedTools []string `json:"allowedTools" gorm:"type:jsonb;serializer:json"` // 允许使用的工具 ID 列表

	// RAG 配置
	RAGEnabled  bool    `json:"ragEnabled" gorm:"default:false"`                  // 是否启用检索增强
	RAGTopK     int     `json:"ragTopK" gorm:"default:3"`                         // 检索数量
	RAGMinScore float64 `json:"ragMinScore" gorm:"type:decimal(3,2);default:0.7"` // 最小相似度

	// 评估门禁配置
	RequireApproval bool   `json:"requireApproval" gorm:"default:false"`    // 强制人工审批，禁止自动执行
	JudgeTrigger    string `json:"judgeTrigger" gorm:"size:32;default:never"` // L3 触发条件: always, on_irreversible_action, on_low_confidence, never
	EvalRulePack    string `json:"evalRulePack" gorm:"size:100"`            // 评估规则包名称，空则使用默认规则

	// 扩展配置
	ExtraConfig map[string]any `json:"extraConfig" gorm:"type:jsonb;serializer:json"`

	// 状态
	Status string `json:"status" gorm:"size:50;not null;default:active"` // active, disabled

	// 时间戳
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
	DeletedBy string     `json:"deletedBy,omitempty" gorm:"size:100"`
}
