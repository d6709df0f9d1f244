package traces

import (
	"net/http"
	"strconv"
	"time"

	response "backend/api/handlers/common"
	"backend/internal/trace"

	"github.com/gin-gonic/gin"
)

// TraceHandler 执行追踪查询 Handler
type TraceHandler struct {
	service *trace.Service
}

// NewTraceHandler 创建 TraceHandler 实例
func NewTraceHandler(service *trace.Service) *TraceHandler {
	return &TraceHandler{service: service}
}

// ListTraces 查询追踪列表
// @Summary 查询执行追踪列表
// @Tags Traces
// @Produce json
// @Param agent_id query string false "按 Agent 过滤"
// @Param status query string false "按状态过滤"
// @Param eval_decision query string false "按评估结论过滤"
// @Param since_days query int false "起始窗口天数"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.ListResponse
// @Router /api/traces [get]
func (h *TraceHandler) ListTraces(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	filter := trace.ListFilter{
		AgentID:           c.Query("agent_id"),
		Status:            c.Query("status"),
		EvalDecision:      c.Query("eval_decision"),
		PaginationRequest: response.ParsePagination(c),
	}
	if raw := c.Query("since_days"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days > 0 {
			since := time.Now().AddDate(0, 0, -days)
			filter.Since = &since
		}
	}

	list, total, err := h.service.List(c.Request.Context(), tenantID, filter)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondList(c, list, filter.Page, filter.GetPageSize(), total)
}

// GetTrace 查询追踪详情
// @Summary 查询追踪详情（含步骤、模型调用、工具调用）
// @Tags Traces
// @Produce json
// @Param id path string true "Trace ID"
// @Success 200 {object} trace.Detail
// @Failure 404 {object} response.ErrorResponse
// @Router /api/traces/{id} [get]
func (h *TraceHandler) GetTrace(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	traceID := c.Param("id")

	detail, err := h.service.Get(c.Request.Context(), tenantID, traceID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// FeedbackRequest 用户反馈请求体
type FeedbackRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

// RecordFeedback 记录用户反馈
// @Summary 为一次运行记录用户评分与评论
// @Tags Traces
// @Accept json
// @Produce json
// @Param id path string true "Trace ID"
// @Param request body FeedbackRequest true "反馈内容"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/traces/{id}/feedback [post]
func (h *TraceHandler) RecordFeedback(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	traceID := c.Param("id")

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	if err := h.service.RecordFeedback(c.Request.Context(), tenantID, traceID, req.Rating, req.Comment); err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "反馈已记录"})
}
