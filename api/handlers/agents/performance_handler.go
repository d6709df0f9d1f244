package agents

import (
	"net/http"
	"strconv"
	"time"

	response "backend/api/handlers/common"
	"backend/internal/infra/queue"
	"backend/internal/optimize"
	"backend/internal/trace"
	"backend/internal/worker/tasks"

	"github.com/gin-gonic/gin"
)

// PerformanceHandler Agent 性能分析 Handler
type PerformanceHandler struct {
	traces   *trace.Service
	analyzer *optimize.Analyzer
	queue    queue.Client
}

// NewPerformanceHandler 创建 PerformanceHandler 实例
func NewPerformanceHandler(traces *trace.Service, analyzer *optimize.Analyzer, queueClient queue.Client) *PerformanceHandler {
	return &PerformanceHandler{traces: traces, analyzer: analyzer, queue: queueClient}
}

// windowDays 解析窗口天数参数，默认 30 天
func windowDays(c *gin.Context) int {
	days := 30
	if raw := c.Query("days"); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d > 0 {
			days = d
		}
	}
	return days
}

// GetSummary 窗口聚合统计
// @Summary Agent 性能汇总
// @Tags Performance
// @Produce json
// @Param id path string true "Agent ID"
// @Param days query int false "窗口天数，默认30"
// @Success 200 {object} trace.WindowStats
// @Router /api/agents/{id}/performance/summary [get]
func (h *PerformanceHandler) GetSummary(c *gin.Context) {
	agentID := c.Param("id")
	since := time.Now().AddDate(0, 0, -windowDays(c))

	stats, err := h.traces.WindowStats(c.Request.Context(), agentID, since)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetFailureModes 失败类别分布
// @Summary 失败类别分布
// @Tags Performance
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {array} trace.FailureModeCount
// @Router /api/agents/{id}/performance/failure-modes [get]
func (h *PerformanceHandler) GetFailureModes(c *gin.Context) {
	agentID := c.Param("id")
	since := time.Now().AddDate(0, 0, -windowDays(c))

	modes, err := h.traces.FailureModes(c.Request.Context(), agentID, since)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, modes)
}

// GetToolStats 工具使用统计
// @Summary 工具使用统计
// @Tags Performance
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {array} trace.ToolStat
// @Router /api/agents/{id}/performance/tools [get]
func (h *PerformanceHandler) GetToolStats(c *gin.Context) {
	agentID := c.Param("id")
	since := time.Now().AddDate(0, 0, -windowDays(c))

	stats, err := h.traces.ToolStats(c.Request.Context(), agentID, since)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetDailyTrend 按天趋势
// @Summary 运行量与成本的按天趋势
// @Tags Performance
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {array} trace.DailyTrendPoint
// @Router /api/agents/{id}/performance/trend [get]
func (h *PerformanceHandler) GetDailyTrend(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	agentID := c.Param("id")

	points, err := h.traces.DailyTrend(c.Request.Context(), tenantID, agentID, windowDays(c))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// GetSlowest 最慢运行列表
// @Summary 最慢运行列表
// @Tags Performance
// @Produce json
// @Param id path string true "Agent ID"
// @Param limit query int false "返回条数，默认10"
// @Success 200 {array} trace.Trace
// @Router /api/agents/{id}/performance/slowest [get]
func (h *PerformanceHandler) GetSlowest(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	agentID := c.Param("id")
	since := time.Now().AddDate(0, 0, -windowDays(c))

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := h.traces.SlowestTraces(c.Request.Context(), tenantID, agentID, since, limit)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetReport 最近一次分析报告
// 优先返回缓存报告，无缓存时现场分析
// @Summary 最近一次性能分析报告
// @Tags Performance
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} optimize.Report
// @Router /api/agents/{id}/performance/report [get]
func (h *PerformanceHandler) GetReport(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	agentID := c.Param("id")

	report, err := h.analyzer.CachedReport(c.Request.Context(), agentID)
	if err == nil && report == nil {
		report, err = h.analyzer.AnalyzeAgent(c.Request.Context(), tenantID, agentID)
	}
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// TriggerAnalysis 手动触发后台分析
// @Summary 手动触发性能分析任务
// @Tags Performance
// @Produce json
// @Param id path string true "Agent ID"
// @Success 202 {object} response.APIResponse
// @Router /api/agents/{id}/analyze [post]
func (h *PerformanceHandler) TriggerAnalysis(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	agentID := c.Param("id")

	err := h.queue.EnqueueAnalyzeAgent(tasks.AnalyzeAgentPayload{
		TenantID: tenantID,
		AgentID:  agentID,
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{Success: true, Message: "分析任务已排队"})
}
