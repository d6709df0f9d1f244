package evals

import (
	"net/http"

	response "backend/api/handlers/common"
	"backend/internal/eval"

	"github.com/gin-gonic/gin"
)

// EvalHandler 评估结果与规则包查询 Handler
type EvalHandler struct {
	evaluator *eval.Evaluator
	rulePacks *eval.Registry
}

// NewEvalHandler 创建 EvalHandler 实例
func NewEvalHandler(evaluator *eval.Evaluator, rulePacks *eval.Registry) *EvalHandler {
	return &EvalHandler{evaluator: evaluator, rulePacks: rulePacks}
}

// GetEval 查询评估结果详情
// @Summary 查询一次评估的分层结果
// @Tags Evals
// @Produce json
// @Param id path string true "评估 ID"
// @Success 200 {object} eval.EvalResult
// @Failure 404 {object} response.ErrorResponse
// @Router /api/evals/{id} [get]
func (h *EvalHandler) GetEval(c *gin.Context) {
	evalID := c.Param("id")

	result, err := h.evaluator.Get(c.Request.Context(), evalID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListRulePacks 查询已注册的评估规则包名称
// @Summary 查询可用的评估规则包
// @Tags Evals
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /api/evals/rulepacks [get]
func (h *EvalHandler) ListRulePacks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rulePacks": h.rulePacks.Names()})
}
