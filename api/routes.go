package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册全部业务路由
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	registerAgentRoutes(rg, h)
	registerTraceRoutes(rg, h)
	registerEvalRoutes(rg, h)
	registerApprovalRoutes(rg, h)
	registerOptimizeRoutes(rg, h)
}

// registerAgentRoutes Agent 配置与性能分析
func registerAgentRoutes(rg *gin.RouterGroup, h *Handlers) {
	agents := rg.Group("/agents")
	{
		agents.GET("", h.Agents.ListAgents)
		agents.POST("", h.Agents.CreateAgent)
		agents.GET("/:id", h.Agents.GetAgent)
		agents.PUT("/:id", h.Agents.UpdateAgent)
		agents.DELETE("/:id", h.Agents.DeleteAgent)

		agents.POST("/:id/analyze", h.Performance.TriggerAnalysis)

		perf := agents.Group("/:id/performance")
		{
			perf.GET("/summary", h.Performance.GetSummary)
			perf.GET("/failure-modes", h.Performance.GetFailureModes)
			perf.GET("/tools", h.Performance.GetToolStats)
			perf.GET("/trend", h.Performance.GetDailyTrend)
			perf.GET("/slowest", h.Performance.GetSlowest)
			perf.GET("/report", h.Performance.GetReport)
		}
	}
}

// registerTraceRoutes 执行追踪查询与反馈
func registerTraceRoutes(rg *gin.RouterGroup, h *Handlers) {
	traces := rg.Group("/traces")
	{
		traces.GET("", h.Traces.ListTraces)
		traces.GET("/:id", h.Traces.GetTrace)
		traces.POST("/:id/feedback", h.Traces.RecordFeedback)
	}
}

// registerEvalRoutes 评估结果查询
func registerEvalRoutes(rg *gin.RouterGroup, h *Handlers) {
	evals := rg.Group("/evals")
	{
		evals.GET("/rulepacks", h.Evals.ListRulePacks)
		evals.GET("/:id", h.Evals.GetEval)
	}
}

// registerApprovalRoutes 人工审批
func registerApprovalRoutes(rg *gin.RouterGroup, h *Handlers) {
	approvals := rg.Group("/approvals")
	{
		approvals.GET("/pending", h.Approvals.ListPending)
		approvals.GET("/:id", h.Approvals.GetApproval)
		approvals.POST("/:id/decide", h.Approvals.Decide)
	}
}

// registerOptimizeRoutes 优化提案与 A/B 测试
func registerOptimizeRoutes(rg *gin.RouterGroup, h *Handlers) {
	optimize := rg.Group("/optimize")
	{
		optimize.POST("/sweep", h.Proposals.TriggerSweep)

		proposals := optimize.Group("/proposals")
		{
			proposals.GET("", h.Proposals.ListProposals)
			proposals.GET("/:id", h.Proposals.GetProposal)
			proposals.POST("/:id/approve", h.Proposals.ApproveProposal)
			proposals.POST("/:id/reject", h.Proposals.RejectProposal)
			proposals.POST("/:id/apply", h.Proposals.ApplyProposal)
		}

		abtests := optimize.Group("/abtests")
		{
			abtests.POST("", h.ABTests.StartTest)
			abtests.GET("", h.ABTests.ListTests)
			abtests.GET("/:id", h.ABTests.GetTest)
			abtests.GET("/:id/serve", h.ABTests.ServeVariant)
			abtests.POST("/:id/samples", h.ABTests.RecordSample)
			abtests.POST("/:id/winner", h.ABTests.SelectWinner)
			abtests.POST("/:id/cancel", h.ABTests.CancelTest)
		}
	}
}
