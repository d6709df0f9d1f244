package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"backend/internal/common"
)

// Service 追踪查询与反馈服务
// 写入走 Tracer，读取、反馈、审批回填走这里
type Service struct {
	db *gorm.DB
}

// NewService 创建追踪查询服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ListFilter 追踪列表过滤条件
type ListFilter struct {
	AgentID      string
	Status       string
	EvalDecision string
	Since        *time.Time
	common.PaginationRequest
}

// List 查询追踪列表
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) ([]Trace, int64, error) {
	query := s.db.WithContext(ctx).Model(&Trace{}).
		Scopes(common.ByTenant(tenantID))
	if filter.AgentID != "" {
		query = query.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.EvalDecision != "" {
		query = query.Where("eval_decision = ?", filter.EvalDecision)
	}
	if filter.Since != nil {
		query = query.Where("started_at >= ?", *filter.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计追踪数量失败: %w", err)
	}

	var list []Trace
	if err := query.Order("started_at DESC").
		Offset(filter.GetOffset()).Limit(filter.GetPageSize()).
		Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("查询追踪列表失败: %w", err)
	}
	return list, total, nil
}

// Detail 追踪详情（含全部子记录）
type Detail struct {
	Trace     Trace       `json:"trace"`
	Steps     []TraceStep `json:"steps"`
	LLMCalls  []LLMCall   `json:"llmCalls"`
	ToolCalls []ToolCall  `json:"toolCalls"`
}

// Get 获取追踪详情
func (s *Service) Get(ctx context.Context, tenantID, traceID string) (*Detail, error) {
	var tr Trace
	err := s.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID)).
		First(&tr, "id = ?", traceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewBusinessErrorWithCode(common.CodeTraceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询追踪失败: %w", err)
	}

	detail := &Detail{Trace: tr}
	if err := s.db.WithContext(ctx).Where("trace_id = ?", traceID).
		Order("seq ASC").Find(&detail.Steps).Error; err != nil {
		return nil, fmt.Errorf("查询追踪步骤失败: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("trace_id = ?", traceID).
		Order("created_at ASC").Find(&detail.LLMCalls).Error; err != nil {
		return nil, fmt.Errorf("查询模型调用失败: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("trace_id = ?", traceID).
		Order("created_at ASC").Find(&detail.ToolCalls).Error; err != nil {
		return nil, fmt.Errorf("查询工具调用失败: %w", err)
	}
	return detail, nil
}

// RecordFeedback 记录人工反馈评分（1-5）
func (s *Service) RecordFeedback(ctx context.Context, tenantID, traceID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return common.NewBusinessError(common.CodeInvalidRequest, "反馈评分超出范围 [1, 5]")
	}
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&Trace{}).
		Scopes(common.ByTenant(tenantID)).
		Where("id = ?", traceID).
		Updates(map[string]any{
			"feedback_rating":  rating,
			"feedback_comment": comment,
			"feedback_at":      &now,
		})
	if result.Error != nil {
		return fmt.Errorf("记录反馈失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return common.NewBusinessErrorWithCode(common.CodeTraceNotFound)
	}
	return nil
}

// AttachEditDiff 记录审批人编辑产出时的统一 diff
func (s *Service) AttachEditDiff(ctx context.Context, traceID, diff, editedOutput string) error {
	updates := map[string]any{"edit_diff": diff}
	if editedOutput != "" {
		updates["output"] = editedOutput
	}
	result := s.db.WithContext(ctx).Model(&Trace{}).
		Where("id = ?", traceID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("记录编辑diff失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return common.NewBusinessErrorWithCode(common.CodeTraceNotFound)
	}
	return nil
}

// ============================================================================
// 窗口聚合：性能分析器的数据底座
// ============================================================================

// WindowStats 一个时间窗口内单个 Agent 的运行统计
type WindowStats struct {
	AgentID     string    `json:"agentId"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`

	RunCount       int64 `json:"runCount"`
	CompletedCount int64 `json:"completedCount"`
	FailedCount    int64 `json:"failedCount"`
	TimeoutCount   int64 `json:"timeoutCount"`
	CancelledCount int64 `json:"cancelledCount"`

	CompletionRate float64 `json:"completionRate"`

	// 无反馈的运行按中性 3.0 计入
	AvgSatisfaction float64 `json:"avgSatisfaction"`
	FeedbackCount   int64   `json:"feedbackCount"`

	AvgCostUSD    float64 `json:"avgCostUsd"`
	AvgDurationMs float64 `json:"avgDurationMs"`
	AvgTokens     float64 `json:"avgTokens"`

	AutoSendCount    int64 `json:"autoSendCount"`
	NeedsReviewCount int64 `json:"needsReviewCount"`
	BlockedCount     int64 `json:"blockedCount"`
}

// WindowStats 聚合指定窗口内的运行统计，窗口内无运行时 RunCount 为 0
func (s *Service) WindowStats(ctx context.Context, agentID string, since time.Time) (*WindowStats, error) {
	stats := &WindowStats{
		AgentID:     agentID,
		WindowStart: since,
		WindowEnd:   time.Now(),
	}

	type aggRow struct {
		RunCount         int64
		CompletedCount   int64
		FailedCount      int64
		TimeoutCount     int64
		CancelledCount   int64
		FeedbackCount    int64
		AvgSatisfaction  float64
		AvgCostUsd       float64
		AvgDurationMs    float64
		AvgTokens        float64
		AutoSendCount    int64
		NeedsReviewCount int64
		BlockedCount     int64
	}
	var row aggRow
	err := s.db.WithContext(ctx).Model(&Trace{}).
		Select(`
			COUNT(*) AS run_count,
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS completed_count,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed_count,
			SUM(CASE WHEN status = 'timeout' THEN 1 ELSE 0 END) AS timeout_count,
			SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END) AS cancelled_count,
			SUM(CASE WHEN feedback_rating IS NOT NULL THEN 1 ELSE 0 END) AS feedback_count,
			AVG(COALESCE(feedback_rating, 3.0)) AS avg_satisfaction,
			AVG(cost_usd) AS avg_cost_usd,
			AVG(duration_ms) AS avg_duration_ms,
			AVG(total_tokens) AS avg_tokens,
			SUM(CASE WHEN eval_decision = 'auto_send' THEN 1 ELSE 0 END) AS auto_send_count,
			SUM(CASE WHEN eval_decision = 'needs_review' THEN 1 ELSE 0 END) AS needs_review_count,
			SUM(CASE WHEN eval_decision = 'blocked' THEN 1 ELSE 0 END) AS blocked_count`).
		Where("agent_id = ? AND started_at >= ?", agentID, since).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("聚合运行统计失败: %w", err)
	}

	stats.RunCount = row.RunCount
	stats.CompletedCount = row.CompletedCount
	stats.FailedCount = row.FailedCount
	stats.TimeoutCount = row.TimeoutCount
	stats.CancelledCount = row.CancelledCount
	stats.FeedbackCount = row.FeedbackCount
	stats.AvgSatisfaction = row.AvgSatisfaction
	stats.AvgCostUSD = row.AvgCostUsd
	stats.AvgDurationMs = row.AvgDurationMs
	stats.AvgTokens = row.AvgTokens
	stats.AutoSendCount = row.AutoSendCount
	stats.NeedsReviewCount = row.NeedsReviewCount
	stats.BlockedCount = row.BlockedCount

	if stats.RunCount > 0 {
		stats.CompletionRate = float64(stats.CompletedCount) / float64(stats.RunCount)
	}
	return stats, nil
}

// FailureModeCount 失败类别统计
type FailureModeCount struct {
	Mode  string  `json:"mode"`
	Count int64   `json:"count"`
	Share float64 `json:"share"` // 占窗口内全部运行的比例
}

// FailureModes 统计窗口内各失败类别的占比，按次数降序
func (s *Service) FailureModes(ctx context.Context, agentID string, since time.Time) ([]FailureModeCount, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Trace{}).
		Where("agent_id = ? AND started_at >= ?", agentID, since).
		Count(&total).Error; err != nil {
		return nil, fmt.Errorf("统计运行总数失败: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	var rows []FailureModeCount
	err := s.db.WithContext(ctx).Model(&Trace{}).
		Select("COALESCE(NULLIF(failure_mode, ''), 'unknown') AS mode, COUNT(*) AS count").
		Where("agent_id = ? AND started_at >= ? AND status IN ?",
			agentID, since, []string{StatusFailed, StatusTimeout}).
		Group("COALESCE(NULLIF(failure_mode, ''), 'unknown')").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计失败类别失败: %w", err)
	}
	for i := range rows {
		rows[i].Share = float64(rows[i].Count) / float64(total)
	}
	return rows, nil
}

// ToolStat 工具使用统计
type ToolStat struct {
	ToolName   string  `json:"toolName"`
	CallCount  int64   `json:"callCount"`
	ErrorCount int64   `json:"errorCount"`
	TraceCount int64   `json:"traceCount"` // 使用过该工具的运行数
	UsageRate  float64 `json:"usageRate"`  // TraceCount / 窗口内运行总数
	ErrorRate  float64 `json:"errorRate"`
}

// ToolStats 统计窗口内各工具的调用量与错误率
func (s *Service) ToolStats(ctx context.Context, agentID string, since time.Time) ([]ToolStat, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Trace{}).
		Where("agent_id = ? AND started_at >= ?", agentID, since).
		Count(&total).Error; err != nil {
		return nil, fmt.Errorf("统计运行总数失败: %w", err)
	}

	var rows []ToolStat
	err := s.db.WithContext(ctx).Model(&ToolCall{}).
		Select(`tool_calls.tool_name AS tool_name,
			COUNT(*) AS call_count,
			SUM(CASE WHEN tool_calls.status = 'error' THEN 1 ELSE 0 END) AS error_count,
			COUNT(DISTINCT tool_calls.trace_id) AS trace_count`).
		Joins("JOIN traces ON traces.id = tool_calls.trace_id").
		Where("traces.agent_id = ? AND traces.started_at >= ?", agentID, since).
		Group("tool_calls.tool_name").
		Order("call_count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计工具使用失败: %w", err)
	}
	for i := range rows {
		if total > 0 {
			rows[i].UsageRate = float64(rows[i].TraceCount) / float64(total)
		}
		if rows[i].CallCount > 0 {
			rows[i].ErrorRate = float64(rows[i].ErrorCount) / float64(rows[i].CallCount)
		}
	}
	return rows, nil
}

// FeedbackComments 取窗口内非空的反馈评语（投诉关键词扫描用）
func (s *Service) FeedbackComments(ctx context.Context, agentID string, since time.Time) ([]string, error) {
	var comments []string
	err := s.db.WithContext(ctx).Model(&Trace{}).
		Where("agent_id = ? AND started_at >= ? AND feedback_comment <> ''", agentID, since).
		Pluck("feedback_comment", &comments).Error
	if err != nil {
		return nil, fmt.Errorf("查询反馈评语失败: %w", err)
	}
	return comments, nil
}

// ============================================================================
// 仪表盘查询
// ============================================================================

// SlowestTraces 窗口内耗时最长的运行
func (s *Service) SlowestTraces(ctx context.Context, tenantID, agentID string, since time.Time, limit int) ([]Trace, error) {
	if limit <= 0 {
		limit = 10
	}
	var list []Trace
	err := s.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID)).
		Where("agent_id = ? AND started_at >= ? AND status <> ?", agentID, since, StatusRunning).
		Order("duration_ms DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("查询慢运行失败: %w", err)
	}
	return list, nil
}

// DailyTrendPoint 按日趋势点
type DailyTrendPoint struct {
	Day            string  `json:"day"`
	RunCount       int64   `json:"runCount"`
	CompletedCount int64   `json:"completedCount"`
	AvgCostUsd     float64 `json:"avgCostUsd"`
	AvgDurationMs  float64 `json:"avgDurationMs"`
}

// DailyTrend 近 N 天的按日运行趋势
func (s *Service) DailyTrend(ctx context.Context, tenantID, agentID string, days int) ([]DailyTrendPoint, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)

	var rows []DailyTrendPoint
	err := s.db.WithContext(ctx).Model(&Trace{}).
		Select(`DATE(started_at) AS day,
			COUNT(*) AS run_count,
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS completed_count,
			AVG(cost_usd) AS avg_cost_usd,
			AVG(duration_ms) AS avg_duration_ms`).
		Where("tenant_id = ? AND agent_id = ? AND started_at >= ?", tenantID, agentID, since).
		Group("DATE(started_at)").
		Order("day ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询按日趋势失败: %w", err)
	}
	return rows, nil
}
