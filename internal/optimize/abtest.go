package optimize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
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

// ABTestManager 配置变更的 A/B 实验管理
// 变体 A 是现行配置，变体 B 是某个已批准提案的变更。
// 实验结束是终态：胜者判定后不再接收样本，B 胜时提案全量应用。
type ABTestManager struct {
	db         *gorm.DB
	agents     *agent.Service
	proposals  *Manager
	minSamples int
}

// NewABTestManager 创建 A/B 实验管理器
func NewABTestManager(db *gorm.DB, agents *agent.Service, proposals *Manager, minSamples int) *ABTestManager {
	if minSamples <= 0 {
		minSamples = 50
	}
	return &ABTestManager{db: db, agents: agents, proposals: proposals, minSamples: minSamples}
}

// Start 基于一个已批准的提案开启实验
func (m *ABTestManager) Start(ctx context.Context, tenantID, proposalID, name string, trafficSplit float64) (*ABTest, error) {
	proposal, err := m.proposals.Get(ctx, tenantID, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != ProposalStatusApproved {
		return nil, common.NewBusinessError(common.CodeIllegalProposalState, "只有已批准的提案可以开实验")
	}
	if trafficSplit <= 0 || trafficSplit >= 1 {
		trafficSplit = 0.5
	}

	cfg, err := m.agents.Get(ctx, tenantID, proposal.AgentID)
	if err != nil {
		return nil, err
	}
	snapshot, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("序列化配置快照失败: %w", err)
	}

	test := &ABTest{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		AgentID:        proposal.AgentID,
		ProposalID:     proposalID,
		Name:           name,
		Status:         ABStatusRunning,
		TrafficSplit:   trafficSplit,
		VariantAConfig: datatypes.JSON(snapshot),
		VariantBConfig: proposal.Change,
		MinSamples:     m.minSamples,
		StartedAt:      time.Now(),
	}
	if err := m.db.WithContext(ctx).Create(test).Error; err != nil {
		return nil, fmt.Errorf("创建A/B实验失败: %w", err)
	}
	logger.Get().Info("A/B实验开始",
		zap.String("test_id", test.ID),
		zap.String("agent_id", test.AgentID),
		zap.String("proposal_type", proposal.Type))
	return test, nil
}

// Get 查询实验
func (m *ABTestManager) Get(ctx context.Context, tenantID, testID string) (*ABTest, error) {
	var test ABTest
	err := m.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID)).
		First(&test, "id = ?", testID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewBusinessErrorWithCode(common.CodeABTestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询A/B实验失败: %w", err)
	}
	return &test, nil
}

// List 查询 Agent 的实验列表
func (m *ABTestManager) List(ctx context.Context, tenantID, agentID string, p common.PaginationRequest) ([]ABTest, int64, error) {
	query := m.db.WithContext(ctx).Model(&ABTest{}).
		Scopes(common.ByTenant(tenantID))
	if agentID != "" {
		query = query.Where("agent_id = ?", agentID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计A/B实验失败: %w", err)
	}
	var list []ABTest
	if err := query.Order("created_at DESC").
		Offset(p.GetOffset()).Limit(p.GetPageSize()).
		Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("查询A/B实验列表失败: %w", err)
	}
	return list, total, nil
}

// Serve 为一次运行分配变体
func (m *ABTestManager) Serve(ctx context.Context, tenantID, testID string) (string, error) {
	test, err := m.Get(ctx, tenantID, testID)
	if err != nil {
		return "", err
	}
	if test.Status != ABStatusRunning {
		return "", common.NewBusinessErrorWithCode(common.CodeABTestCompleted)
	}
	if rand.Float64() < test.TrafficSplit {
		return VariantB, nil
	}
	return VariantA, nil
}

// RecordSample 记录一次运行的评估得分
// 分数增量累加，计数原子自增；实验已结束时拒绝
func (m *ABTestManager) RecordSample(ctx context.Context, tenantID, testID, variant string, score float64) error {
	if variant != VariantA && variant != VariantB {
		return common.NewBusinessError(common.CodeInvalidRequest, "非法的实验变体: "+variant)
	}

	updates := map[string]any{
		"a_samples":   gorm.Expr("a_samples + 1"),
		"a_score_sum": gorm.Expr("a_score_sum + ?", score),
	}
	if variant == VariantB {
		updates = map[string]any{
			"b_samples":   gorm.Expr("b_samples + 1"),
			"b_score_sum": gorm.Expr("b_score_sum + ?", score),
		}
	}

	result := m.db.WithContext(ctx).Model(&ABTest{}).
		Where("id = ? AND tenant_id = ? AND status = ?", testID, tenantID, ABStatusRunning).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("记录实验样本失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := m.Get(ctx, tenantID, testID); err != nil {
			return err
		}
		return common.NewBusinessErrorWithCode(common.CodeABTestCompleted)
	}
	metrics.ABSamplesTotal.WithLabelValues(testID, variant).Inc()
	return nil
}

// SelectWinner 判定胜者并结束实验
// 两个变体都攒够最小样本数才允许判定，否则返回样本不足错误。
// B 胜：提案全量应用；A 胜：提案按被实验淘汰驳回。实验进入终态后不可重复判定。
func (m *ABTestManager) SelectWinner(ctx context.Context, tenantID, testID string) (*ABTest, error) {
	test, err := m.Get(ctx, tenantID, testID)
	if err != nil {
		return nil, err
	}
	if test.Status != ABStatusRunning {
		return nil, common.NewBusinessErrorWithCode(common.CodeABTestCompleted)
	}
	if test.ASamples < int64(test.MinSamples) || test.BSamples < int64(test.MinSamples) {
		return nil, common.NewBusinessError(common.CodeInsufficientSamples,
			fmt.Sprintf("样本不足: A=%d B=%d，双侧下限 %d", test.ASamples, test.BSamples, test.MinSamples))
	}

	winner := VariantA
	if test.AvgScore(VariantB) > test.AvgScore(VariantA) {
		winner = VariantB
	}

	now := time.Now()
	result := m.db.WithContext(ctx).Model(&ABTest{}).
		Where("id = ? AND status = ?", testID, ABStatusRunning).
		Updates(map[string]any{
			"status":   ABStatusCompleted,
			"winner":   winner,
			"ended_at": &now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("结束A/B实验失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, common.NewBusinessErrorWithCode(common.CodeABTestCompleted)
	}

	if winner == VariantB {
		if _, err := m.proposals.Apply(ctx, tenantID, test.ProposalID); err != nil {
			logger.Get().Error("实验胜者配置应用失败",
				zap.String("test_id", testID),
				zap.String("proposal_id", test.ProposalID),
				zap.Error(err))
		}
	} else {
		// A 胜：提案被实验淘汰
		if err := m.proposals.Supersede(ctx, test.ProposalID, "A/B实验中现行配置胜出"); err != nil {
			logger.Get().Warn("实验落败提案淘汰失败",
				zap.String("proposal_id", test.ProposalID), zap.Error(err))
		}
	}

	logger.Get().Info("A/B实验结束",
		zap.String("test_id", testID),
		zap.String("winner", winner),
		zap.Float64("avg_a", test.AvgScore(VariantA)),
		zap.Float64("avg_b", test.AvgScore(VariantB)))
	return m.Get(ctx, tenantID, testID)
}

// Cancel 取消实验，不判定胜者
func (m *ABTestManager) Cancel(ctx context.Context, tenantID, testID string) error {
	now := time.Now()
	result := m.db.WithContext(ctx).Model(&ABTest{}).
		Where("id = ? AND tenant_id = ? AND status = ?", testID, tenantID, ABStatusRunning).
		Updates(map[string]any{
			"status":   ABStatusCancelled,
			"ended_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("取消A/B实验失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := m.Get(ctx, tenantID, testID); err != nil {
			return err
		}
		return common.NewBusinessErrorWithCode(common.CodeABTestCompleted)
	}
	return nil
}
