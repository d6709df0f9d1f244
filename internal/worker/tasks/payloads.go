package tasks

// Task Types
const (
	TypeAnalyzeAgent = "optimize:analyze_agent"
	TypeAnalyzeSweep = "optimize:analyze_sweep"
)

// AnalyzeAgentPayload 单个 Agent 性能分析任务载荷
type AnalyzeAgentPayload struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
}

// AnalyzeSweepPayload 全量分析任务载荷（定时触发，无参数预留扩展位）
type AnalyzeSweepPayload struct {
	Reason string `json:"reason,omitempty"` // scheduled / manual
}
