package optimize

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"backend/internal/agent"
	"backend/internal/ai"
	"backend/internal/config"
	"backend/internal/logger"
)

// 降本估算系数：降档模型通常保留约三成成本，节省七成
const downgradeSavingsRatio = 0.7

// 旗舰模型到低成本档位的降档目标
var downgradeTargets = map[string]string{
	"gpt-4o":      "gpt-4o-mini",
	"gpt-4-turbo": "gpt-4o-mini",
	"o3":          "o3-mini",
}

// Proposer 修改提案生成器
// 拿性能报告对照五条规则，产出带依据的配置修改提案
type Proposer struct {
	proposals *Manager
	refiner   ai.ModelClient // 提示词改写模型，可为空
	cfg       *config.OptimizeConfig
}

// NewProposer 创建提案生成器
func NewProposer(proposals *Manager, refiner ai.ModelClient, cfg *config.OptimizeConfig) *Proposer {
	return &Proposer{proposals: proposals, refiner: refiner, cfg: cfg}
}

// Propose 根据报告生成提案并入库
// 已有同类型待审提案时跳过，避免重复刷屏；窗口数据不足时不产出任何提案
func (p *Proposer) Propose(ctx context.Context, cfg *agent.AgentConfig, report *Report) ([]*Proposal, error) {
	if report.InsufficientData {
		return nil, nil
	}

	var created []*Proposal
	add := func(proposal *Proposal, err error) {
		if err != nil {
			logger.Get().Warn("生成提案失败",
				zap.String("agent_id", cfg.ID), zap.Error(err))
			return
		}
		if proposal != nil {
			created = append(created, proposal)
		}
	}

	add(p.proposePromptRefinement(ctx, cfg, report))
	add(p.proposeModelDowngrade(ctx, cfg, report))
	for _, proposal := range p.proposeRemoveTools(ctx, cfg, report) {
		created = append(created, proposal)
	}
	add(p.proposeAddRAG(ctx, cfg, report))
	add(p.proposeAdjustTemperature(ctx, cfg, report))

	return created, nil
}

// proposePromptRefinement 规则一：满意度低于改写线时改写提示词，依据里点名高频失败类别
func (p *Proposer) proposePromptRefinement(ctx context.Context, cfg *agent.AgentConfig, report *Report) (*Proposal, error) {
	if report.Window.AvgSatisfaction >= p.cfg.SatisfactionRefineBelow {
		return nil, nil
	}
	if exists, err := p.proposals.HasPending(ctx, cfg.ID, ProposalTypePromptRefinement); err != nil || exists {
		return nil, err
	}
	if p.refiner == nil {
		logger.Get().Warn("提示词改写模型未配置，跳过 prompt_refinement", zap.String("agent_id", cfg.ID))
		return nil, nil
	}

	modeNames := make([]string, 0, len(report.FailureModes))
	for _, m := range report.FailureModes {
		modeNames = append(modeNames, m.Mode)
	}

	newPrompt, err := p.refinePrompt(ctx, cfg, report, modeNames)
	if err != nil {
		return nil, fmt.Errorf("提示词改写失败: %w", err)
	}

	rationale := fmt.Sprintf("窗口内满意度 %.2f（样本 %d 条反馈）",
		report.Window.AvgSatisfaction, report.Window.FeedbackCount)
	if len(modeNames) > 0 {
		rationale += fmt.Sprintf("，突出失败类别: %s", strings.Join(modeNames, ", "))
	}

	return p.proposals.Create(ctx, &Proposal{
		TenantID:        cfg.TenantID,
		AgentID:         cfg.ID,
		Type:            ProposalTypePromptRefinement,
		Rationale:       rationale,
		EstimatedImpact: "针对高频失败类别补充指令约束，预期降低失败率、提升满意度",
	}, PromptRefinementChange{
		OldPrompt: cfg.SystemPrompt,
		NewPrompt: newPrompt,
	})
}

// proposeModelDowngrade 规则二：表现健康但成本高的旗舰档位降档
func (p *Proposer) proposeModelDowngrade(ctx context.Context, cfg *agent.AgentConfig, report *Report) (*Proposal, error) {
	if !report.PerformingWell || cfg.ModelTier != agent.TierPremium {
		return nil, nil
	}
	if report.Window.AvgCostUSD <= p.cfg.CostThreshold {
		return nil, nil
	}
	if exists, err := p.proposals.HasPending(ctx, cfg.ID, ProposalTypeModelDowngrade); err != nil || exists {
		return nil, err
	}

	target, ok := downgradeTargets[cfg.ModelID]
	if !ok {
		target = "gpt-4o-mini"
	}
	savings := report.Window.AvgCostUSD * downgradeSavingsRatio * float64(report.Window.RunCount)

	return p.proposals.Create(ctx, &Proposal{
		TenantID: cfg.TenantID,
		AgentID:  cfg.ID,
		Type:     ProposalTypeModelDowngrade,
		Rationale: fmt.Sprintf("表现健康（满意度 %.2f，完成率 %.0f%%），单次成本 $%.4f 超过阈值 $%.2f",
			report.Window.AvgSatisfaction, report.Window.CompletionRate*100,
			report.Window.AvgCostUSD, p.cfg.CostThreshold),
		EstimatedImpact: fmt.Sprintf("按窗口 %d 次运行估算可节省 $%.2f", report.Window.RunCount, savings),
		SavingsUSD:      savings,
	}, ModelDowngradeChange{
		FromModel: cfg.ModelID,
		ToModel:   target,
		ToTier:    agent.TierEconomy,
	})
}

// proposeRemoveTools 规则三：使用率低于地板值的工具逐个建议移除
// 工具面不超过两个时不再收缩
func (p *Proposer) proposeRemoveTools(ctx context.Context, cfg *agent.AgentConfig, report *Report) []*Proposal {
	if len(cfg.AllowedTools) <= 2 {
		return nil
	}
	usage := map[string]float64{}
	for _, ts := range report.ToolStats {
		usage[ts.ToolName] = ts.UsageRate
	}

	var created []*Proposal
	for _, tool := range cfg.AllowedTools {
		rate := usage[tool] // 没出现过的工具使用率为 0
		if rate >= p.cfg.ToolUsageFloor {
			continue
		}
		if exists, err := p.proposals.HasPendingRemoveTool(ctx, cfg.ID, tool); err != nil || exists {
			continue
		}

		remaining := make([]string, 0, len(cfg.AllowedTools)-1)
		for _, t := range cfg.AllowedTools {
			if t != tool {
				remaining = append(remaining, t)
			}
		}
		proposal, err := p.proposals.Create(ctx, &Proposal{
			TenantID: cfg.TenantID,
			AgentID:  cfg.ID,
			Type:     ProposalTypeRemoveTool,
			Rationale: fmt.Sprintf("工具 %s 在窗口 %d 次运行中使用率仅 %.1f%%，低于地板值 %.1f%%",
				tool, report.Window.RunCount, rate*100, p.cfg.ToolUsageFloor*100),
			EstimatedImpact: "缩小工具面，降低模型误用工具的概率与提示词长度",
		}, RemoveToolChange{ToolName: tool, RemainingTools: remaining})
		if err != nil {
			logger.Get().Warn("生成 remove_tool 提案失败", zap.String("tool", tool), zap.Error(err))
			continue
		}
		created = append(created, proposal)
	}
	return created
}

// proposeAddRAG 规则四：幻觉率超标且未启用检索增强
func (p *Proposer) proposeAddRAG(ctx context.Context, cfg *agent.AgentConfig, report *Report) (*Proposal, error) {
	if cfg.RAGEnabled || report.HallucinationRate < p.cfg.HallucinationRateFloor {
		return nil, nil
	}
	if exists, err := p.proposals.HasPending(ctx, cfg.ID, ProposalTypeAddRAG); err != nil || exists {
		return nil, err
	}

	return p.proposals.Create(ctx, &Proposal{
		TenantID: cfg.TenantID,
		AgentID:  cfg.ID,
		Type:     ProposalTypeAddRAG,
		Rationale: fmt.Sprintf("评审发现无依据声明的评估占比 %.0f%%，超过 %.0f%% 阈值",
			report.HallucinationRate*100, p.cfg.HallucinationRateFloor*100),
		EstimatedImpact: "接入知识检索为产出提供事实依据，预期压低幻觉率",
	}, AddRAGChange{TopK: 3, MinScore: 0.7})
}

// proposeAdjustTemperature 规则五：用户投诉产出过于发挥且温度偏高时压温度
func (p *Proposer) proposeAdjustTemperature(ctx context.Context, cfg *agent.AgentConfig, report *Report) (*Proposal, error) {
	hasCreativeComplaint := false
	for _, c := range report.Complaints {
		if c.Category == ComplaintTooCreative {
			hasCreativeComplaint = true
			break
		}
	}
	if !hasCreativeComplaint || cfg.Temperature <= p.cfg.TemperatureTriggerAbove {
		return nil, nil
	}
	if exists, err := p.proposals.HasPending(ctx, cfg.ID, ProposalTypeAdjustTemperature); err != nil || exists {
		return nil, err
	}

	// 降一档，不越过地板值
	target := cfg.Temperature - 0.2
	if target < p.cfg.TemperatureFloor {
		target = p.cfg.TemperatureFloor
	}

	return p.proposals.Create(ctx, &Proposal{
		TenantID: cfg.TenantID,
		AgentID:  cfg.ID,
		Type:     ProposalTypeAdjustTemperature,
		Rationale: fmt.Sprintf("窗口内出现 %s 投诉且当前温度 %.2f 高于触发线 %.2f",
			ComplaintTooCreative, cfg.Temperature, p.cfg.TemperatureTriggerAbove),
		EstimatedImpact: "降低采样随机性，预期收敛产出风格、减少自由发挥",
	}, AdjustTemperatureChange{
		FromTemperature: cfg.Temperature,
		ToTemperature:   target,
	})
}

// refinePrompt 调用改写模型生成新提示词
func (p *Proposer) refinePrompt(ctx context.Context, cfg *agent.AgentConfig, report *Report, modeNames []string) (string, error) {
	var problems []string
	if len(modeNames) > 0 {
		problems = append(problems, "高频失败类别: "+strings.Join(modeNames, ", "))
	}
	for _, c := range report.Complaints {
		problems = append(problems, fmt.Sprintf("用户投诉 %s × %d", c.Category, c.Count))
	}
	if report.Window.AvgSatisfaction < p.cfg.SatisfactionRefineBelow {
		problems = append(problems, fmt.Sprintf("满意度 %.2f 低于 %.2f",
			report.Window.AvgSatisfaction, p.cfg.SatisfactionRefineBelow))
	}

	system := fmt.Sprintf(`你是提示词工程师。根据线上暴露的问题改写 Agent 的系统提示词。
要求：保留原有职责与约束；针对列出的问题补充明确指令；总长度不超过 %d 个词；只输出改写后的提示词本身。`,
		p.cfg.PromptWordBudget)
	user := fmt.Sprintf("Agent 职责: %s\n\n当前系统提示词:\n%s\n\n线上问题:\n- %s",
		cfg.AgentType, cfg.SystemPrompt, strings.Join(problems, "\n- "))

	resp, err := p.refiner.ChatCompletion(ctx, &ai.ChatCompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	newPrompt := strings.TrimSpace(resp.Content)
	if newPrompt == "" {
		return "", fmt.Errorf("改写模型返回空提示词")
	}
	return newPrompt, nil
}
