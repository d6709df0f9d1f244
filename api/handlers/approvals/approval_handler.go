package approvals

import (
	"net/http"

	response "backend/api/handlers/common"
	"backend/internal/approval"

	"github.com/gin-gonic/gin"
)

// ApprovalHandler 人工审批 Handler
type ApprovalHandler struct {
	gateway *approval.Gateway
}

// NewApprovalHandler 创建 ApprovalHandler 实例
func NewApprovalHandler(gateway *approval.Gateway) *ApprovalHandler {
	return &ApprovalHandler{gateway: gateway}
}

// ListPending 查询待审批列表
// @Summary 查询待审批请求列表
// @Tags Approvals
// @Produce json
// @Param agent_id query string false "按 Agent 过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.ListResponse
// @Router /api/approvals/pending [get]
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	p := response.ParsePagination(c)

	list, total, err := h.gateway.ListPending(c.Request.Context(), tenantID, c.Query("agent_id"), p)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondList(c, list, p.Page, p.GetPageSize(), total)
}

// GetApproval 查询审批请求详情
// @Summary 查询审批请求详情
// @Tags Approvals
// @Produce json
// @Param id path string true "审批请求 ID"
// @Success 200 {object} approval.Request
// @Failure 404 {object} response.ErrorResponse
// @Router /api/approvals/{id} [get]
func (h *ApprovalHandler) GetApproval(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	requestID := c.Param("id")

	req, err := h.gateway.Get(c.Request.Context(), tenantID, requestID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// DecideRequest 审批处理请求体
type DecideRequest struct {
	Action       string `json:"action" binding:"required,oneof=approve edit_and_approve reject"`
	Note         string `json:"note"`
	EditedOutput string `json:"editedOutput"`
}

// Decide 处理审批请求
// @Summary 批准、编辑放行或拒绝一条审批请求
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "审批请求 ID"
// @Param request body DecideRequest true "审批动作"
// @Success 200 {object} approval.Request
// @Failure 409 {object} response.ErrorResponse
// @Router /api/approvals/{id}/decide [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	requestID := c.Param("id")

	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	result, err := h.gateway.Decide(c.Request.Context(), tenantID, requestID, approval.Decision{
		Action:       req.Action,
		ReviewedBy:   c.GetString("user_id"),
		Note:         req.Note,
		EditedOutput: req.EditedOutput,
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
