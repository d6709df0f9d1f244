package optimize

import (
	"net/http"

	response "backend/api/handlers/common"
	"backend/internal/infra/queue"
	"backend/internal/optimize"

	"github.com/gin-gonic/gin"
)

// ProposalHandler 优化提案 Handler
type ProposalHandler struct {
	proposals *optimize.Manager
	queue     queue.Client
}

// NewProposalHandler 创建 ProposalHandler 实例
func NewProposalHandler(proposals *optimize.Manager, queueClient queue.Client) *ProposalHandler {
	return &ProposalHandler{proposals: proposals, queue: queueClient}
}

// ListProposals 查询提案列表
// @Summary 查询优化提案列表
// @Tags Proposals
// @Produce json
// @Param agent_id query string false "按 Agent 过滤"
// @Param status query string false "按状态过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.ListResponse
// @Router /api/optimize/proposals [get]
func (h *ProposalHandler) ListProposals(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	p := response.ParsePagination(c)

	list, total, err := h.proposals.List(c.Request.Context(), tenantID, c.Query("agent_id"), c.Query("status"), p)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondList(c, list, p.Page, p.GetPageSize(), total)
}

// GetProposal 查询提案详情
// @Summary 查询优化提案详情
// @Tags Proposals
// @Produce json
// @Param id path string true "提案 ID"
// @Success 200 {object} optimize.Proposal
// @Failure 404 {object} response.ErrorResponse
// @Router /api/optimize/proposals/{id} [get]
func (h *ProposalHandler) GetProposal(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	proposalID := c.Param("id")

	proposal, err := h.proposals.Get(c.Request.Context(), tenantID, proposalID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

// ReviewRequest 提案评审请求体
type ReviewRequest struct {
	Note string `json:"note"`
}

// ApproveProposal 批准提案
// @Summary 批准一条优化提案
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path string true "提案 ID"
// @Param request body ReviewRequest false "评审备注"
// @Success 200 {object} optimize.Proposal
// @Failure 409 {object} response.ErrorResponse
// @Router /api/optimize/proposals/{id}/approve [post]
func (h *ProposalHandler) ApproveProposal(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	proposalID := c.Param("id")

	var req ReviewRequest
	_ = c.ShouldBindJSON(&req)

	proposal, err := h.proposals.Approve(c.Request.Context(), tenantID, proposalID, c.GetString("user_id"), req.Note)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

// RejectProposal 拒绝提案
// @Summary 拒绝一条优化提案
// @Tags Proposals
// @Accept json
// @Produce json
// @Param id path string true "提案 ID"
// @Param request body ReviewRequest false "评审备注"
// @Success 200 {object} optimize.Proposal
// @Failure 409 {object} response.ErrorResponse
// @Router /api/optimize/proposals/{id}/reject [post]
func (h *ProposalHandler) RejectProposal(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	proposalID := c.Param("id")

	var req ReviewRequest
	_ = c.ShouldBindJSON(&req)

	proposal, err := h.proposals.Reject(c.Request.Context(), tenantID, proposalID, c.GetString("user_id"), req.Note)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

// ApplyProposal 应用提案
// @Summary 将已批准的提案应用到 Agent 配置
// @Tags Proposals
// @Produce json
// @Param id path string true "提案 ID"
// @Success 200 {object} optimize.Proposal
// @Failure 409 {object} response.ErrorResponse
// @Router /api/optimize/proposals/{id}/apply [post]
func (h *ProposalHandler) ApplyProposal(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	proposalID := c.Param("id")

	proposal, err := h.proposals.Apply(c.Request.Context(), tenantID, proposalID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

// TriggerSweep 触发全量分析
// @Summary 手动触发全部 Agent 的后台分析任务
// @Tags Proposals
// @Produce json
// @Success 202 {object} response.APIResponse
// @Router /api/optimize/sweep [post]
func (h *ProposalHandler) TriggerSweep(c *gin.Context) {
	if err := h.queue.EnqueueAnalyzeSweep("manual"); err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{Success: true, Message: "全量分析任务已排队"})
}
