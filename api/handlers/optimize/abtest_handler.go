package optimize

import (
	"net/http"

	response "backend/api/handlers/common"
	"backend/internal/optimize"

	"github.com/gin-gonic/gin"
)

// ABTestHandler A/B 测试 Handler
type ABTestHandler struct {
	tests *optimize.ABTestManager
}

// NewABTestHandler 创建 ABTestHandler 实例
func NewABTestHandler(tests *optimize.ABTestManager) *ABTestHandler {
	return &ABTestHandler{tests: tests}
}

// StartTestRequest 创建 A/B 测试请求体
type StartTestRequest struct {
	ProposalID   string  `json:"proposalId" binding:"required"`
	Name         string  `json:"name"`
	TrafficSplit float64 `json:"trafficSplit"`
}

// StartTest 创建 A/B 测试
// @Summary 基于已批准提案创建 A/B 测试
// @Tags ABTests
// @Accept json
// @Produce json
// @Param request body StartTestRequest true "测试配置"
// @Success 201 {object} optimize.ABTest
// @Failure 409 {object} response.ErrorResponse
// @Router /api/optimize/abtests [post]
func (h *ABTestHandler) StartTest(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req StartTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	test, err := h.tests.Start(c.Request.Context(), tenantID, req.ProposalID, req.Name, req.TrafficSplit)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, test)
}

// ListTests 查询 A/B 测试列表
// @Summary 查询 A/B 测试列表
// @Tags ABTests
// @Produce json
// @Param agent_id query string false "按 Agent 过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.ListResponse
// @Router /api/optimize/abtests [get]
func (h *ABTestHandler) ListTests(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	p := response.ParsePagination(c)

	list, total, err := h.tests.List(c.Request.Context(), tenantID, c.Query("agent_id"), p)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondList(c, list, p.Page, p.GetPageSize(), total)
}

// GetTest 查询 A/B 测试详情
// @Summary 查询 A/B 测试详情
// @Tags ABTests
// @Produce json
// @Param id path string true "测试 ID"
// @Success 200 {object} optimize.ABTest
// @Failure 404 {object} response.ErrorResponse
// @Router /api/optimize/abtests/{id} [get]
func (h *ABTestHandler) GetTest(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	testID := c.Param("id")

	test, err := h.tests.Get(c.Request.Context(), tenantID, testID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, test)
}

// ServeVariant 分配流量变体
// @Summary 按流量比例为一次运行分配 A/B 变体
// @Tags ABTests
// @Produce json
// @Param id path string true "测试 ID"
// @Success 200 {object} map[string]string
// @Failure 409 {object} response.ErrorResponse
// @Router /api/optimize/abtests/{id}/serve [get]
func (h *ABTestHandler) ServeVariant(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	testID := c.Param("id")

	variant, err := h.tests.Serve(c.Request.Context(), tenantID, testID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variant": variant})
}

// SampleRequest 样本上报请求体
type SampleRequest struct {
	Variant string  `json:"variant" binding:"required,oneof=A B"`
	Score   float64 `json:"score" binding:"min=0,max=1"`
}

// RecordSample 上报评分样本
// @Summary 为 A/B 测试上报一条评分样本
// @Tags ABTests
// @Accept json
// @Produce json
// @Param id path string true "测试 ID"
// @Param request body SampleRequest true "样本内容"
// @Success 200 {object} response.APIResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/optimize/abtests/{id}/samples [post]
func (h *ABTestHandler) RecordSample(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	testID := c.Param("id")

	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	if err := h.tests.RecordSample(c.Request.Context(), tenantID, testID, req.Variant, req.Score); err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "样本已记录"})
}

// SelectWinner 判定胜者
// @Summary 判定 A/B 测试胜者并落地结果
// @Tags ABTests
// @Produce json
// @Param id path string true "测试 ID"
// @Success 200 {object} optimize.ABTest
// @Failure 409 {object} response.ErrorResponse
// @Router /api/optimize/abtests/{id}/winner [post]
func (h *ABTestHandler) SelectWinner(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	testID := c.Param("id")

	test, err := h.tests.SelectWinner(c.Request.Context(), tenantID, testID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, test)
}

// CancelTest 取消测试
// @Summary 取消一个进行中的 A/B 测试
// @Tags ABTests
// @Produce json
// @Param id path string true "测试 ID"
// @Success 200 {object} response.APIResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/optimize/abtests/{id}/cancel [post]
func (h *ABTestHandler) CancelTest(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	testID := c.Param("id")

	if err := h.tests.Cancel(c.Request.Context(), tenantID, testID); err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "测试已取消"})
}
