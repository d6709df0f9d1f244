package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backend/internal/common"
	"backend/internal/eval"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/trace"
)

// Gateway 审批网关
// 管理 needs_review 产出的排队、人工处理与过期清扫。
// 处理结果回填到评估结果的终态动作字段，编辑产出时把统一 diff 挂回追踪记录。
type Gateway struct {
	db        *gorm.DB
	evaluator *eval.Evaluator
	traces    *trace.Service

	expiry        time.Duration // 超过该时长未处理自动过期
	sweepInterval time.Duration
}

// Option 网关配置项
type Option func(*Gateway)

// WithExpiry 设置审批请求的有效时长
func WithExpiry(d time.Duration) Option {
	return func(g *Gateway) { g.expiry = d }
}

// WithSweepInterval 设置过期清扫周期
func WithSweepInterval(d time.Duration) Option {
	return func(g *Gateway) { g.sweepInterval = d }
}

// NewGateway 创建审批网关
func NewGateway(db *gorm.DB, evaluator *eval.Evaluator, traces *trace.Service, opts ...Option) *Gateway {
	g := &Gateway{
		db:            db,
		evaluator:     evaluator,
		traces:        traces,
		expiry:        72 * time.Hour,
		sweepInterval: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnqueueInput 入队参数
type EnqueueInput struct {
	TenantID     string
	AgentID      string
	TraceID      string
	EvalID       string
	TaskType     string
	Input        string
	Output       string
	ReviewReason string
}

// Enqueue 将一条 needs_review 产出加入审批队列
func (g *Gateway) Enqueue(ctx context.Context, in EnqueueInput) (*Request, error) {
	expires := time.Now().Add(g.expiry)
	req := &Request{
		ID:           uuid.New().String(),
		TenantID:     in.TenantID,
		AgentID:      in.AgentID,
		TraceID:      in.TraceID,
		EvalID:       in.EvalID,
		TaskType:     in.TaskType,
		Input:        in.Input,
		Output:       in.Output,
		ReviewReason: in.ReviewReason,
		Status:       StatusPending,
		ExpiresAt:    &expires,
	}
	if err := g.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, fmt.Errorf("创建审批请求失败: %w", err)
	}
	metrics.ApprovalPendingGauge.WithLabelValues(in.AgentID).Inc()
	return req, nil
}

// ListPending 查询待处理的审批请求
func (g *Gateway) ListPending(ctx context.Context, tenantID, agentID string, p common.PaginationRequest) ([]Request, int64, error) {
	query := g.db.WithContext(ctx).Model(&Request{}).
		Scopes(common.ByTenant(tenantID)).
		Where("status = ?", StatusPending)
	if agentID != "" {
		query = query.Where("agent_id = ?", agentID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计审批队列失败: %w", err)
	}

	var list []Request
	if err := query.Order("created_at ASC").
		Offset(p.GetOffset()).Limit(p.GetPageSize()).
		Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("查询审批队列失败: %w", err)
	}
	return list, total, nil
}

// Get 获取审批请求
func (g *Gateway) Get(ctx context.Context, tenantID, requestID string) (*Request, error) {
	var req Request
	err := g.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID)).
		First(&req, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewBusinessErrorWithCode(common.CodeApprovalNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询审批请求失败: %w", err)
	}
	return &req, nil
}

// Decision 人工处理参数
type Decision struct {
	Action       string // approve, edit_and_approve, reject
	ReviewedBy   string
	Note         string
	EditedOutput string // edit_and_approve 时必填
}

// Decide 处理一条审批请求
// 条件更新保证一条请求只被处理一次，重复处理返回业务错误
func (g *Gateway) Decide(ctx context.Context, tenantID, requestID string, d Decision) (*Request, error) {
	req, err := g.Get(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}

	var userAction string
	switch d.Action {
	case ActionApprove:
		userAction = eval.UserActionApproved
	case ActionEditAndApprove:
		if d.EditedOutput == "" {
			return nil, common.NewBusinessError(common.CodeInvalidRequest, "编辑放行必须提供修改后的产出")
		}
		userAction = eval.UserActionEdited
	case ActionReject:
		userAction = eval.UserActionRejected
	default:
		return nil, common.NewBusinessError(common.CodeInvalidRequest, "非法的审批动作: "+d.Action)
	}

	now := time.Now()
	status := StatusApproved
	if d.Action == ActionReject {
		status = StatusRejected
	}
	updates := map[string]any{
		"status":      status,
		"action":      d.Action,
		"reviewed_by": d.ReviewedBy,
		"review_note": d.Note,
		"decided_at":  &now,
	}
	if d.Action == ActionEditAndApprove {
		updates["edited_output"] = d.EditedOutput
	}

	result := g.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND status = ?", requestID, StatusPending).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("更新审批请求失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, common.NewBusinessErrorWithCode(common.CodeApprovalResolved)
	}

	metrics.ApprovalPendingGauge.WithLabelValues(req.AgentID).Dec()
	metrics.ApprovalDecisionsTotal.WithLabelValues(req.AgentID, d.Action).Inc()

	// 编辑放行：记录原稿与改稿的统一 diff 到追踪
	if d.Action == ActionEditAndApprove {
		diff, diffErr := unifiedDiff(req.Output, d.EditedOutput)
		if diffErr != nil {
			logger.Get().Warn("生成编辑diff失败", zap.String("trace_id", req.TraceID), zap.Error(diffErr))
		} else if err := g.traces.AttachEditDiff(ctx, req.TraceID, diff, d.EditedOutput); err != nil {
			logger.Get().Warn("回写编辑diff失败", zap.String("trace_id", req.TraceID), zap.Error(err))
		}
	}

	// 回填评估结果的终态动作
	if err := g.evaluator.RecordUserAction(ctx, req.EvalID, userAction); err != nil {
		logger.Get().Warn("回填审批动作失败", zap.String("eval_id", req.EvalID), zap.Error(err))
	}

	return g.Get(ctx, tenantID, requestID)
}

// SweepExpired 将超过有效期仍未处理的请求标记为过期
func (g *Gateway) SweepExpired(ctx context.Context) (int64, error) {
	var expired []Request
	if err := g.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", StatusPending, time.Now()).
		Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("查询过期审批失败: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for _, req := range expired {
		ids = append(ids, req.ID)
	}
	result := g.db.WithContext(ctx).Model(&Request{}).
		Where("id IN ? AND status = ?", ids, StatusPending).
		Update("status", StatusExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("标记过期审批失败: %w", result.Error)
	}

	for _, req := range expired {
		metrics.ApprovalPendingGauge.WithLabelValues(req.AgentID).Dec()
	}
	logger.Get().Info("审批过期清扫完成", zap.Int64("expired", result.RowsAffected))
	return result.RowsAffected, nil
}

// StartSweeper 启动后台过期清扫，ctx 取消时退出
func (g *Gateway) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(g.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := g.SweepExpired(ctx); err != nil {
					logger.Get().Error("审批过期清扫失败", zap.Error(err))
				}
			}
		}
	}()
}

// unifiedDiff 原稿与改稿的统一 diff
func unifiedDiff(original, edited string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(edited),
		FromFile: "agent_output",
		ToFile:   "reviewer_edit",
		Context:  3,
	})
}
