package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"backend/internal/agent"
	"backend/internal/optimize"
	"backend/internal/swarm"
	"backend/internal/worker/tasks"
)

// AgentDirectory Agent 配置读取口
type AgentDirectory interface {
	Get(ctx context.Context, tenantID, agentID string) (*agent.AgentConfig, error)
	ListActive(ctx context.Context) ([]agent.AgentConfig, error)
}

// AgentAnalyzer 性能分析口
type AgentAnalyzer interface {
	AnalyzeAgent(ctx context.Context, tenantID, agentID string) (*optimize.Report, error)
}

// ChangeProposer 提案生成口
type ChangeProposer interface {
	Propose(ctx context.Context, cfg *agent.AgentConfig, report *optimize.Report) ([]*optimize.Proposal, error)
}

// OptimizeHandler 自优化流水线任务处理器
type OptimizeHandler struct {
	agents   AgentDirectory
	analyzer AgentAnalyzer
	proposer ChangeProposer
	runner   *swarm.Runner
	logger   *zap.Logger
}

func NewOptimizeHandler(
	agents AgentDirectory,
	analyzer AgentAnalyzer,
	proposer ChangeProposer,
	runner *swarm.Runner,
	logger *zap.Logger,
) *OptimizeHandler {
	return &OptimizeHandler{
		agents:   agents,
		analyzer: analyzer,
		proposer: proposer,
		runner:   runner,
		logger:   logger,
	}
}

// HandleAnalyzeAgent 分析单个 Agent 并生成提案
func (h *OptimizeHandler) HandleAnalyzeAgent(ctx context.Context, t *asynq.Task) error {
	var p tasks.AnalyzeAgentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始分析Agent", zap.String("agent_id", p.AgentID))
	if err := h.analyzeOne(ctx, p.TenantID, p.AgentID); err != nil {
		h.logger.Error("Agent分析失败", zap.String("agent_id", p.AgentID), zap.Error(err))
		return err
	}
	h.logger.Info("Agent分析完成", zap.String("agent_id", p.AgentID))
	return nil
}

// HandleAnalyzeSweep 批次扇出分析全部活跃 Agent
// 单个 Agent 失败只影响自己，整轮仍然算成功
func (h *OptimizeHandler) HandleAnalyzeSweep(ctx context.Context, t *asynq.Task) error {
	var p tasks.AnalyzeSweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	agents, err := h.agents.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("加载活跃Agent失败: %w", err)
	}
	h.logger.Info("开始全量分析",
		zap.String("reason", p.Reason),
		zap.Int("agent_count", len(agents)))

	units := make([]swarm.Unit, len(agents))
	for i, ag := range agents {
		tenantID, agentID := ag.TenantID, ag.ID
		units[i] = swarm.Unit{
			ID: agentID,
			Run: func(ctx context.Context) error {
				return h.analyzeOne(ctx, tenantID, agentID)
			},
		}
	}

	failed := 0
	for _, res := range h.runner.Run(ctx, units) {
		if res.Err != nil {
			failed++
			h.logger.Error("Agent分析失败",
				zap.String("agent_id", res.ID),
				zap.Bool("skipped", res.Skipped),
				zap.Error(res.Err))
		}
	}
	h.logger.Info("全量分析完成",
		zap.Int("total", len(units)), zap.Int("failed", failed))
	return nil
}

func (h *OptimizeHandler) analyzeOne(ctx context.Context, tenantID, agentID string) error {
	cfg, err := h.agents.Get(ctx, tenantID, agentID)
	if err != nil {
		return fmt.Errorf("加载Agent配置失败: %w", err)
	}
	report, err := h.analyzer.AnalyzeAgent(ctx, tenantID, agentID)
	if err != nil {
		return fmt.Errorf("性能分析失败: %w", err)
	}
	created, err := h.proposer.Propose(ctx, cfg, report)
	if err != nil {
		return fmt.Errorf("生成提案失败: %w", err)
	}
	if len(created) > 0 {
		h.logger.Info("生成修改提案",
			zap.String("agent_id", agentID), zap.Int("count", len(created)))
	}
	return nil
}
