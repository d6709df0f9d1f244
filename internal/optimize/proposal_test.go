package optimize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend/internal/agent"
	"backend/internal/common"
)

func (f *fixture) createProposal(t *testing.T, agentID, typ string, change any) *Proposal {
	p, err := f.proposals.Create(context.Background(), &Proposal{
		TenantID:  "tenant-1",
		AgentID:   agentID,
		Type:      typ,
		Rationale: "test rationale",
	}, change)
	require.NoError(t, err)
	return p
}

func TestProposalLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cfg := f.createAgent(t, nil)

	p := f.createProposal(t, cfg.ID, ProposalTypeAdjustTemperature,
		AdjustTemperatureChange{FromTemperature: 0.7, ToTemperature: 0.3})
	assert.Equal(t, ProposalStatusPending, p.Status)

	approved, err := f.proposals.Approve(ctx, "tenant-1", p.ID, "ops@acme", "makes sense")
	require.NoError(t, err)
	assert.Equal(t, ProposalStatusApproved, approved.Status)
	assert.Equal(t, "ops@acme", approved.ReviewedBy)

	applied, err := f.proposals.Apply(ctx, "tenant-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProposalStatusApplied, applied.Status)
	assert.NotNil(t, applied.AppliedAt)

	got, err := f.agents.Get(ctx, "tenant-1", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.3, got.Temperature)
}

func TestIllegalTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cfg := f.createAgent(t, nil)
	var bizErr *common.BusinessError

	// pending 不能直接 apply
	p := f.createProposal(t, cfg.ID, ProposalTypeAddRAG, AddRAGChange{TopK: 3, MinScore: 0.7})
	_, err := f.proposals.Apply(ctx, "tenant-1", p.ID)
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, common.CodeIllegalProposalState, bizErr.Code)

	// rejected 不能再 approve
	_, err = f.proposals.Reject(ctx, "tenant-1", p.ID, "ops@acme", "not now")
	require.NoError(t, err)
	_, err = f.proposals.Approve(ctx, "tenant-1", p.ID, "ops@acme", "")
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, common.CodeIllegalProposalState, bizErr.Code)

	// 未知类型拒绝创建
	_, err = f.proposals.Create(ctx, &Proposal{
		TenantID: "tenant-1", AgentID: cfg.ID, Type: "upgrade_gpu",
	}, map[string]any{})
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, common.CodeUnknownProposalType, bizErr.Code)
}

func TestApplyIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cfg := f.createAgent(t, nil)

	p := f.createProposal(t, cfg.ID, ProposalTypeModelDowngrade,
		ModelDowngradeChange{FromModel: "gpt-4o", ToModel: "gpt-4o-mini", ToTier: agent.TierEconomy})
	_, err := f.proposals.Approve(ctx, "tenant-1", p.ID, "ops@acme", "")
	require.NoError(t, err)

	first, err := f.proposals.Apply(ctx, "tenant-1", p.ID)
	require.NoError(t, err)

	// 手动改回模型，验证第二次 apply 不会重新执行变更
	require.NoError(t, f.agents.ReplaceModel(ctx, cfg.ID, "gpt-4o", agent.TierPremium))

	second, err := f.proposals.Apply(ctx, "tenant-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProposalStatusApplied, second.Status)
	assert.Equal(t, first.AppliedAt.Unix(), second.AppliedAt.Unix())

	got, err := f.agents.Get(ctx, "tenant-1", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.ModelID) // 没有被重放
}

func TestApplyFailureKeepsApproved(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cfg := f.createAgent(t, nil)

	p := f.createProposal(t, cfg.ID, ProposalTypePromptRefinement,
		PromptRefinementChange{OldPrompt: cfg.SystemPrompt, NewPrompt: "Better prompt."})
	_, err := f.proposals.Approve(ctx, "tenant-1", p.ID, "ops@acme", "")
	require.NoError(t, err)

	// 删除 Agent 制造应用失败
	require.NoError(t, f.agents.Delete(ctx, "tenant-1", cfg.ID, "admin"))

	_, err = f.proposals.Apply(ctx, "tenant-1", p.ID)
	require.Error(t, err)

	got, err := f.proposals.Get(ctx, "tenant-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProposalStatusApproved, got.Status) // 状态保持可重试
	assert.NotEmpty(t, got.ApplyError)
}

func TestModelUpgradeApply(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cfg := f.createAgent(t, func(req *agent.CreateAgentRequest) {
		req.ModelID = "gpt-4o-mini"
		req.ModelTier = agent.TierEconomy
	})

	p := f.createProposal(t, cfg.ID, ProposalTypeModelUpgrade,
		ModelUpgradeChange{FromModel: "gpt-4o-mini", ToModel: "gpt-4o", ToTier: agent.TierPremium})
	_, err := f.proposals.Approve(ctx, "tenant-1", p.ID, "ops@acme", "quality regression")
	require.NoError(t, err)
	_, err = f.proposals.Apply(ctx, "tenant-1", p.ID)
	require.NoError(t, err)

	got, err := f.agents.Get(ctx, "tenant-1", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.ModelID)
	assert.Equal(t, agent.TierPremium, got.ModelTier)
}

func TestAddToolApply(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cfg := f.createAgent(t, nil) // crm_lookup + email_send

	p := f.createProposal(t, cfg.ID, ProposalTypeAddTool, AddToolChange{ToolName: "web_search"})
	_, err := f.proposals.Approve(ctx, "tenant-1", p.ID, "ops@acme", "")
	require.NoError(t, err)
	_, err = f.proposals.Apply(ctx, "tenant-1", p.ID)
	require.NoError(t, err)

	got, err := f.agents.Get(ctx, "tenant-1", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"crm_lookup", "email_send", "web_search"}, got.AllowedTools)

	// 已在工具面内的工具不重复追加
	dup := f.createProposal(t, cfg.ID, ProposalTypeAddTool, AddToolChange{ToolName: "email_send"})
	_, err = f.proposals.Approve(ctx, "tenant-1", dup.ID, "ops@acme", "")
	require.NoError(t, err)
	_, err = f.proposals.Apply(ctx, "tenant-1", dup.ID)
	require.NoError(t, err)

	got, err = f.agents.Get(ctx, "tenant-1", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"crm_lookup", "email_send", "web_search"}, got.AllowedTools)
}

func TestRemoveToolAppliesAgainstCurrentConfig(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cfg := f.createAgent(t, func(req *agent.CreateAgentRequest) {
		req.AllowedTools = []string{"crm_lookup", "email_send", "web_search"}
	})

	p1 := f.createProposal(t, cfg.ID, ProposalTypeRemoveTool,
		RemoveToolChange{ToolName: "web_search", RemainingTools: []string{"crm_lookup", "email_send"}})
	p2 := f.createProposal(t, cfg.ID, ProposalTypeRemoveTool,
		RemoveToolChange{ToolName: "email_send", RemainingTools: []string{"crm_lookup", "web_search"}})

	for _, p := range []*Proposal{p1, p2} {
		_, err := f.proposals.Approve(ctx, "tenant-1", p.ID, "ops@acme", "")
		require.NoError(t, err)
		_, err = f.proposals.Apply(ctx, "tenant-1", p.ID)
		require.NoError(t, err)
	}

	// 两条移除提案不会互相覆盖
	got, err := f.agents.Get(ctx, "tenant-1", cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"crm_lookup"}, got.AllowedTools)
}
