package optimize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"backend/internal/agent"
	"backend/internal/common"
	"backend/internal/logger"
	"backend/internal/metrics"
)

// AllProposalTypes 全部已知提案类型
var AllProposalTypes = []string{
	ProposalTypePromptRefinement,
	ProposalTypeModelDowngrade,
	ProposalTypeModelUpgrade,
	ProposalTypeAddTool,
	ProposalTypeRemoveTool,
	ProposalTypeAddRAG,
	ProposalTypeAdjustTemperature,
}

type applyFunc func(ctx context.Context, proposal *Proposal) error

// Manager 提案生命周期管理
// pending → approved → applied，或 pending → rejected。
// 应用走按类型的分发表，建表时校验每个已知类型都有处理函数，
// 新增类型漏配处理函数会在启动时直接崩，而不是线上静默丢弃。
type Manager struct {
	db     *gorm.DB
	agents *agent.Service
	apply  map[string]applyFunc
}

// NewManager 创建提案管理器
func NewManager(db *gorm.DB, agents *agent.Service) *Manager {
	m := &Manager{db: db, agents: agents}
	m.apply = map[string]applyFunc{
		ProposalTypePromptRefinement:  m.applyPromptRefinement,
		ProposalTypeModelDowngrade:    m.applyModelDowngrade,
		ProposalTypeModelUpgrade:      m.applyModelUpgrade,
		ProposalTypeAddTool:           m.applyAddTool,
		ProposalTypeRemoveTool:        m.applyRemoveTool,
		ProposalTypeAddRAG:            m.applyAddRAG,
		ProposalTypeAdjustTemperature: m.applyAdjustTemperature,
	}
	for _, typ := range AllProposalTypes {
		if _, ok := m.apply[typ]; !ok {
			panic(fmt.Sprintf("提案类型 %s 缺少应用函数", typ))
		}
	}
	return m
}

// Create 创建提案，change 为与 Type 匹配的类型化变更内容
func (m *Manager) Create(ctx context.Context, p *Proposal, change any) (*Proposal, error) {
	if _, ok := m.apply[p.Type]; !ok {
		return nil, common.NewBusinessErrorWithCode(common.CodeUnknownProposalType)
	}
	data, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("序列化变更内容失败: %w", err)
	}

	p.ID = uuid.New().String()
	p.Status = ProposalStatusPending
	p.Change = datatypes.JSON(data)

	if err := m.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("创建提案失败: %w", err)
	}
	metrics.ProposalsTotal.WithLabelValues(p.AgentID, p.Type).Inc()
	metrics.ProposalTransitionsTotal.WithLabelValues(ProposalStatusPending).Inc()
	return p, nil
}

// Get 查询提案
func (m *Manager) Get(ctx context.Context, tenantID, proposalID string) (*Proposal, error) {
	var p Proposal
	err := m.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID)).
		First(&p, "id = ?", proposalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewBusinessErrorWithCode(common.CodeProposalNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询提案失败: %w", err)
	}
	return &p, nil
}

// List 查询提案列表
func (m *Manager) List(ctx context.Context, tenantID, agentID, status string, p common.PaginationRequest) ([]Proposal, int64, error) {
	query := m.db.WithContext(ctx).Model(&Proposal{}).
		Scopes(common.ByTenant(tenantID))
	if agentID != "" {
		query = query.Where("agent_id = ?", agentID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计提案数量失败: %w", err)
	}
	var list []Proposal
	if err := query.Order("created_at DESC").
		Offset(p.GetOffset()).Limit(p.GetPageSize()).
		Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("查询提案列表失败: %w", err)
	}
	return list, total, nil
}

// HasPending 是否已有同类型待审提案
func (m *Manager) HasPending(ctx context.Context, agentID, proposalType string) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&Proposal{}).
		Where("agent_id = ? AND type = ? AND status = ?", agentID, proposalType, ProposalStatusPending).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询待审提案失败: %w", err)
	}
	return count > 0, nil
}

// HasPendingRemoveTool 是否已有针对同一工具的待审移除提案
func (m *Manager) HasPendingRemoveTool(ctx context.Context, agentID, toolName string) (bool, error) {
	var pending []Proposal
	err := m.db.WithContext(ctx).
		Where("agent_id = ? AND type = ? AND status = ?", agentID, ProposalTypeRemoveTool, ProposalStatusPending).
		Find(&pending).Error
	if err != nil {
		return false, fmt.Errorf("查询待审提案失败: %w", err)
	}
	for _, p := range pending {
		var change RemoveToolChange
		if json.Unmarshal(p.Change, &change) == nil && change.ToolName == toolName {
			return true, nil
		}
	}
	return false, nil
}

// Approve 批准提案：pending → approved
func (m *Manager) Approve(ctx context.Context, tenantID, proposalID, reviewer, note string) (*Proposal, error) {
	return m.review(ctx, tenantID, proposalID, ProposalStatusApproved, reviewer, note)
}

// Reject 驳回提案：pending → rejected
func (m *Manager) Reject(ctx context.Context, tenantID, proposalID, reviewer, note string) (*Proposal, error) {
	return m.review(ctx, tenantID, proposalID, ProposalStatusRejected, reviewer, note)
}

func (m *Manager) review(ctx context.Context, tenantID, proposalID, toStatus, reviewer, note string) (*Proposal, error) {
	if _, err := m.Get(ctx, tenantID, proposalID); err != nil {
		return nil, err
	}
	now := time.Now()
	result := m.db.WithContext(ctx).Model(&Proposal{}).
		Where("id = ? AND status = ?", proposalID, ProposalStatusPending).
		Updates(map[string]any{
			"status":      toStatus,
			"reviewed_by": reviewer,
			"review_note": note,
			"reviewed_at": &now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("更新提案状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, common.NewBusinessErrorWithCode(common.CodeIllegalProposalState)
	}
	metrics.ProposalTransitionsTotal.WithLabelValues(toStatus).Inc()
	return m.Get(ctx, tenantID, proposalID)
}

// Supersede 淘汰一条已批准但未应用的提案：approved → rejected
// A/B 实验中现行配置胜出时调用
func (m *Manager) Supersede(ctx context.Context, proposalID, note string) error {
	result := m.db.WithContext(ctx).Model(&Proposal{}).
		Where("id = ? AND status = ?", proposalID, ProposalStatusApproved).
		Updates(map[string]any{
			"status":      ProposalStatusRejected,
			"reviewed_by": "ab_test",
			"review_note": note,
		})
	if result.Error != nil {
		return fmt.Errorf("淘汰提案失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return common.NewBusinessErrorWithCode(common.CodeIllegalProposalState)
	}
	metrics.ProposalTransitionsTotal.WithLabelValues(ProposalStatusRejected).Inc()
	return nil
}

// Apply 应用已批准的提案到 Agent 配置
// 幂等：已应用的提案直接返回成功；应用失败时状态保持 approved 并记录失败原因，可重试
func (m *Manager) Apply(ctx context.Context, tenantID, proposalID string) (*Proposal, error) {
	p, err := m.Get(ctx, tenantID, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status == ProposalStatusApplied {
		return p, nil
	}
	if p.Status != ProposalStatusApproved {
		return nil, common.NewBusinessErrorWithCode(common.CodeIllegalProposalState)
	}

	fn := m.apply[p.Type]
	if fn == nil {
		return nil, common.NewBusinessErrorWithCode(common.CodeUnknownProposalType)
	}
	if applyErr := fn(ctx, p); applyErr != nil {
		if err := m.db.WithContext(ctx).Model(p).
			Update("apply_error", applyErr.Error()).Error; err != nil {
			logger.Get().Error("记录提案应用失败原因失败", zap.String("proposal_id", p.ID), zap.Error(err))
		}
		return nil, fmt.Errorf("应用提案失败: %w", applyErr)
	}

	now := time.Now()
	result := m.db.WithContext(ctx).Model(&Proposal{}).
		Where("id = ? AND status = ?", proposalID, ProposalStatusApproved).
		Updates(map[string]any{
			"status":      ProposalStatusApplied,
			"applied_at":  &now,
			"apply_error": "",
		})
	if result.Error != nil {
		return nil, fmt.Errorf("更新提案状态失败: %w", result.Error)
	}
	metrics.ProposalTransitionsTotal.WithLabelValues(ProposalStatusApplied).Inc()
	return m.Get(ctx, tenantID, proposalID)
}

// ============================================================================
// 按类型的应用函数
// ============================================================================

func (m *Manager) applyPromptRefinement(ctx context.Context, p *Proposal) error {
	var change PromptRefinementChange
	if err := json.Unmarshal(p.Change, &change); err != nil {
		return fmt.Errorf("解码变更内容失败: %w", err)
	}
	return m.agents.ReplaceSystemPrompt(ctx, p.AgentID, change.NewPrompt)
}

func (m *Manager) applyModelDowngrade(ctx context.Context, p *Proposal) error {
	var change ModelDowngradeChange
	if err := json.Unmarshal(p.Change, &change); err != nil {
		return fmt.Errorf("解码变更内容失败: %w", err)
	}
	return m.agents.ReplaceModel(ctx, p.AgentID, change.ToModel, change.ToTier)
}

func (m *Manager) applyModelUpgrade(ctx context.Context, p *Proposal) error {
	var change ModelUpgradeChange
	if err := json.Unmarshal(p.Change, &change); err != nil {
		return fmt.Errorf("解码变更内容失败: %w", err)
	}
	return m.agents.ReplaceModel(ctx, p.AgentID, change.ToModel, change.ToTier)
}

func (m *Manager) applyAddTool(ctx context.Context, p *Proposal) error {
	var change AddToolChange
	if err := json.Unmarshal(p.Change, &change); err != nil {
		return fmt.Errorf("解码变更内容失败: %w", err)
	}
	cfg, err := m.agents.Get(ctx, p.TenantID, p.AgentID)
	if err != nil {
		return err
	}
	for _, t := range cfg.AllowedTools {
		if t == change.ToolName {
			return nil // 已在工具面内
		}
	}
	return m.agents.SetTools(ctx, p.AgentID, append(cfg.AllowedTools, change.ToolName))
}

func (m *Manager) applyRemoveTool(ctx context.Context, p *Proposal) error {
	var change RemoveToolChange
	if err := json.Unmarshal(p.Change, &change); err != nil {
		return fmt.Errorf("解码变更内容失败: %w", err)
	}
	// 基于当前配置现算剩余工具，避免多条移除提案互相覆盖
	cfg, err := m.agents.Get(ctx, p.TenantID, p.AgentID)
	if err != nil {
		return err
	}
	remaining := make([]string, 0, len(cfg.AllowedTools))
	for _, t := range cfg.AllowedTools {
		if t != change.ToolName {
			remaining = append(remaining, t)
		}
	}
	return m.agents.SetTools(ctx, p.AgentID, remaining)
}

func (m *Manager) applyAddRAG(ctx context.Context, p *Proposal) error {
	var change AddRAGChange
	if err := json.Unmarshal(p.Change, &change); err != nil {
		return fmt.Errorf("解码变更内容失败: %w", err)
	}
	return m.agents.EnableRAG(ctx, p.AgentID, change.TopK, change.MinScore)
}

func (m *Manager) applyAdjustTemperature(ctx context.Context, p *Proposal) error {
	var change AdjustTemperatureChange
	if err := json.Unmarshal(p.Change, &change); err != nil {
		return fmt.Errorf("解码变更内容失败: %w", err)
	}
	return m.agents.SetTemperature(ctx, p.AgentID, change.ToTemperature)
}
