package agents

import (
	"net/http"

	response "backend/api/handlers/common"
	"backend/internal/agent"

	"github.com/gin-gonic/gin"
)

// AgentHandler Agent 配置管理 Handler
type AgentHandler struct {
	service *agent.Service
}

// NewAgentHandler 创建 AgentHandler 实例
func NewAgentHandler(service *agent.Service) *AgentHandler {
	return &AgentHandler{service: service}
}

// ListAgents 查询 Agent 配置列表
// @Summary 查询 Agent 配置列表
// @Tags Agents
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.ListResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/agents [get]
func (h *AgentHandler) ListAgents(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	p := response.ParsePagination(c)

	list, total, err := h.service.List(c.Request.Context(), tenantID, p.Page, p.GetPageSize())
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondList(c, list, p.Page, p.GetPageSize(), total)
}

// GetAgent 查询单个 Agent 配置
// @Summary 查询 Agent 配置详情
// @Tags Agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} agent.AgentConfig
// @Failure 404 {object} response.ErrorResponse
// @Router /api/agents/{id} [get]
func (h *AgentHandler) GetAgent(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	agentID := c.Param("id")

	cfg, err := h.service.Get(c.Request.Context(), tenantID, agentID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// CreateAgent 创建 Agent 配置
// @Summary 创建 Agent 配置
// @Tags Agents
// @Accept json
// @Produce json
// @Param request body agent.CreateAgentRequest true "Agent 配置"
// @Success 201 {object} agent.AgentConfig
// @Failure 400 {object} response.ErrorResponse
// @Router /api/agents [post]
func (h *AgentHandler) CreateAgent(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req agent.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	cfg, err := h.service.Create(c.Request.Context(), tenantID, &req)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// UpdateAgent 更新 Agent 配置
// @Summary 更新 Agent 配置
// @Tags Agents
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param request body agent.UpdateAgentRequest true "Agent 配置"
// @Success 200 {object} agent.AgentConfig
// @Failure 400 {object} response.ErrorResponse
// @Router /api/agents/{id} [put]
func (h *AgentHandler) UpdateAgent(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	agentID := c.Param("id")

	var req agent.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	cfg, err := h.service.Update(c.Request.Context(), tenantID, agentID, &req)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// DeleteAgent 删除 Agent 配置
// @Summary 删除 Agent 配置
// @Tags Agents
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/agents/{id} [delete]
func (h *AgentHandler) DeleteAgent(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	agentID := c.Param("id")
	operatorID := c.GetString("user_id")

	if err := h.service.Delete(c.Request.Context(), tenantID, agentID, operatorID); err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "Agent 配置删除成功"})
}
