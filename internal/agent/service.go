package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backend/internal/common"
	"backend/internal/logger"
)

// Service Agent 配置服务
type Service struct {
	db *gorm.DB
}

// NewService 创建 Agent 配置服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CreateAgentRequest 创建 Agent 请求
type CreateAgentRequest struct {
	AgentType    string   `json:"agentType" binding:"required"`
	Name         string   `json:"name" binding:"required,max=255"`
	Description  string   `json:"description"`
	ModelID      string   `json:"modelId" binding:"required"`
	ModelTier    string   `json:"modelTier"`
	SystemPrompt string   `json:"systemPrompt"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    int      `json:"maxTokens"`
	AllowedTools []string `json:"allowedTools"`

	RequireApproval bool   `json:"requireApproval"`
	JudgeTrigger    string `json:"judgeTrigger"`
	EvalRulePack    string `json:"evalRulePack"`
}

// UpdateAgentRequest 更新 Agent 请求（指针字段区分"未提供"与"清空"）
type UpdateAgentRequest struct {
	Name            *string   `json:"name"`
	Description     *string   `json:"description"`
	ModelID         *string   `json:"modelId"`
	ModelTier       *string   `json:"modelTier"`
	SystemPrompt    *string   `json:"systemPrompt"`
	Temperature     *float64  `json:"temperature"`
	MaxTokens       *int      `json:"maxTokens"`
	AllowedTools    *[]string `json:"allowedTools"`
	RequireApproval *bool     `json:"requireApproval"`
	JudgeTrigger    *string   `json:"judgeTrigger"`
	EvalRulePack    *string   `json:"evalRulePack"`
	Status          *string   `json:"status"`
}

// Create 创建 Agent 配置
func (s *Service) Create(ctx context.Context, tenantID string, req *CreateAgentRequest) (*AgentConfig, error) {
	if err := validateJudgeTrigger(req.JudgeTrigger); err != nil {
		return nil, err
	}
	if err := validateModelTier(req.ModelTier); err != nil {
		return nil, err
	}

	cfg := &AgentConfig{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		AgentType:    req.AgentType,
		Name:         req.Name,
		Description:  req.Description,
		ModelID:      req.ModelID,
		ModelTier:    req.ModelTier,
		SystemPrompt: req.SystemPrompt,
		Temperature:  0.7,
		MaxTokens:    req.MaxTokens,
		AllowedTools: req.AllowedTools,

		RequireApproval: req.RequireApproval,
		JudgeTrigger:    req.JudgeTrigger,
		EvalRulePack:    req.EvalRulePack,
		Status:          "active",
	}
	if cfg.ModelTier == "" {
		cfg.ModelTier = TierStandard
	}
	if cfg.JudgeTrigger == "" {
		cfg.JudgeTrigger = "never"
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if err := validateTemperature(cfg.Temperature); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(cfg).Error; err != nil {
		logger.Get().Error("创建Agent配置失败", zap.Error(err), zap.String("name", req.Name))
		return nil, fmt.Errorf("创建Agent配置失败: %w", err)
	}
	return cfg, nil
}

// Get 获取 Agent 配置
func (s *Service) Get(ctx context.Context, tenantID, agentID string) (*AgentConfig, error) {
	var cfg AgentConfig
	err := s.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID), common.NotDeleted()).
		First(&cfg, "id = ?", agentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewBusinessErrorWithCode(common.CodeAgentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询Agent配置失败: %w", err)
	}
	return &cfg, nil
}

// List 列出租户下的 Agent 配置
func (s *Service) List(ctx context.Context, tenantID string, page, pageSize int) ([]AgentConfig, int64, error) {
	p := common.PaginationRequest{Page: page, PageSize: pageSize}

	query := s.db.WithContext(ctx).Model(&AgentConfig{}).
		Scopes(common.ByTenant(tenantID), common.NotDeleted())

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计Agent数量失败: %w", err)
	}

	var list []AgentConfig
	if err := query.Order("created_at DESC").
		Offset(p.GetOffset()).Limit(p.GetPageSize()).
		Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("查询Agent列表失败: %w", err)
	}
	return list, total, nil
}

// ListActive 列出所有活跃 Agent（供分析批处理扫描，不分页、不限租户）
func (s *Service) ListActive(ctx context.Context) ([]AgentConfig, error) {
	var list []AgentConfig
	if err := s.db.WithContext(ctx).
		Scopes(common.NotDeleted(), common.ActiveOnly()).
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询活跃Agent失败: %w", err)
	}
	return list, nil
}

// Update 更新 Agent 配置
func (s *Service) Update(ctx context.Context, tenantID, agentID string, req *UpdateAgentRequest) (*AgentConfig, error) {
	cfg, err := s.Get(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.ModelID != nil {
		updates["model_id"] = *req.ModelID
	}
	if req.ModelTier != nil {
		if err := validateModelTier(*req.ModelTier); err != nil {
			return nil, err
		}
		updates["model_tier"] = *req.ModelTier
	}
	if req.SystemPrompt != nil {
		updates["system_prompt"] = *req.SystemPrompt
	}
	if req.Temperature != nil {
		if err := validateTemperature(*req.Temperature); err != nil {
			return nil, err
		}
		updates["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		updates["max_tokens"] = *req.MaxTokens
	}
	if req.AllowedTools != nil {
		cfg.AllowedTools = *req.AllowedTools
		if err := s.db.WithContext(ctx).Model(cfg).
			Update("allowed_tools", cfg.AllowedTools).Error; err != nil {
			return nil, fmt.Errorf("更新Agent工具列表失败: %w", err)
		}
	}
	if req.RequireApproval != nil {
		updates["require_approval"] = *req.RequireApproval
	}
	if req.JudgeTrigger != nil {
		if err := validateJudgeTrigger(*req.JudgeTrigger); err != nil {
			return nil, err
		}
		updates["judge_trigger"] = *req.JudgeTrigger
	}
	if req.EvalRulePack != nil {
		updates["eval_rule_pack"] = *req.EvalRulePack
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(cfg).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("更新Agent配置失败: %w", err)
		}
	}
	return s.Get(ctx, tenantID, agentID)
}

// Delete 软删除 Agent 配置
func (s *Service) Delete(ctx context.Context, tenantID, agentID, deletedBy string) error {
	cfg, err := s.Get(ctx, tenantID, agentID)
	if err != nil {
		return err
	}
	now := time.Now()
	return s.db.WithContext(ctx).Model(cfg).Updates(map[string]any{
		"deleted_at": &now,
		"deleted_by": deletedBy,
		"status":     "disabled",
	}).Error
}

// ============================================================================
// 类型化配置变更：优化提案应用时调用，每个方法对应一种提案类型
// ============================================================================

// ReplaceSystemPrompt 替换系统提示词（prompt_refinement）
func (s *Service) ReplaceSystemPrompt(ctx context.Context, agentID, prompt string) error {
	if prompt == "" {
		return common.NewBusinessError(common.CodeInvalidAgentConfig, "系统提示词不能为空")
	}
	return s.applyUpdate(ctx, agentID, map[string]any{"system_prompt": prompt})
}

// ReplaceModel 替换模型（model_downgrade 或升级）
func (s *Service) ReplaceModel(ctx context.Context, agentID, modelID, tier string) error {
	if modelID == "" {
		return common.NewBusinessError(common.CodeInvalidAgentConfig, "模型ID不能为空")
	}
	if err := validateModelTier(tier); err != nil {
		return err
	}
	updates := map[string]any{"model_id": modelID}
	if tier != "" {
		updates["model_tier"] = tier
	}
	return s.applyUpdate(ctx, agentID, updates)
}

// SetTemperature 调整温度（adjust_temperature）
func (s *Service) SetTemperature(ctx context.Context, agentID string, temperature float64) error {
	if err := validateTemperature(temperature); err != nil {
		return err
	}
	return s.applyUpdate(ctx, agentID, map[string]any{"temperature": temperature})
}

// SetTools 替换允许使用的工具列表（remove_tool）
func (s *Service) SetTools(ctx context.Context, agentID string, tools []string) error {
	if tools == nil {
		tools = []string{}
	}
	return s.applyUpdate(ctx, agentID, map[string]any{"allowed_tools": tools})
}

// EnableRAG 启用检索增强（add_rag）
func (s *Service) EnableRAG(ctx context.Context, agentID string, topK int, minScore float64) error {
	if topK <= 0 {
		topK = 3
	}
	if minScore <= 0 || minScore > 1 {
		minScore = 0.7
	}
	return s.applyUpdate(ctx, agentID, map[string]any{
		"rag_enabled":   true,
		"rag_top_k":     topK,
		"rag_min_score": minScore,
	})
}

// applyUpdate 对 Agent 配置执行字段更新，不存在时返回业务错误
func (s *Service) applyUpdate(ctx context.Context, agentID string, updates map[string]any) error {
	result := s.db.WithContext(ctx).Model(&AgentConfig{}).
		Scopes(common.NotDeleted()).
		Where("id = ?", agentID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("更新Agent配置失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return common.NewBusinessErrorWithCode(common.CodeAgentNotFound)
	}
	return nil
}

func validateTemperature(t float64) error {
	if t < 0 || t > 2 {
		return common.NewBusinessError(common.CodeInvalidAgentConfig,
			fmt.Sprintf("温度超出范围 [0, 2]: %.2f", t))
	}
	return nil
}

func validateModelTier(tier string) error {
	switch tier {
	case "", TierPremium, TierStandard, TierEconomy:
		return nil
	}
	return common.NewBusinessError(common.CodeInvalidAgentConfig, "未知的模型档位: "+tier)
}

func validateJudgeTrigger(trigger string) error {
	switch trigger {
	case "", "always", "on_irreversible_action", "on_low_confidence", "never":
		return nil
	}
	return common.NewBusinessError(common.CodeInvalidAgentConfig, "未知的评审触发条件: "+trigger)
}
