package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskpilot_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 执行追踪指标
var (
	// TraceWritesTotal 追踪写入总数（含失败，追踪失败不影响主流程）
	TraceWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_trace_writes_total",
			Help: "追踪写入总数",
		},
		[]string{"op", "status"},
	)

	// TracesFinalizedTotal 已终结的追踪总数
	TracesFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_traces_finalized_total",
			Help: "已终结的追踪总数",
		},
		[]string{"status"},
	)
)

// 评估门禁指标
var (
	// EvalDecisionsTotal 评估最终决策总数
	EvalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_eval_decisions_total",
			Help: "评估最终决策总数",
		},
		[]string{"agent_id", "decision"},
	)

	// EvalDuration 评估耗时（秒）
	EvalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskpilot_eval_duration_seconds",
			Help:    "评估耗时分布",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent_id"},
	)

	// JudgeCallsTotal L3 评审调用总数
	JudgeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_judge_calls_total",
			Help: "L3 评审调用总数",
		},
		[]string{"verdict"},
	)
)

// 审批指标
var (
	// ApprovalPendingGauge 待人工审批数量
	ApprovalPendingGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskpilot_approvals_pending",
			Help: "待人工审批数量",
		},
		[]string{"agent_id"},
	)

	// ApprovalDecisionsTotal 人工审批决策总数
	ApprovalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_approval_decisions_total",
			Help: "人工审批决策总数",
		},
		[]string{"agent_id", "decision"},
	)
)

// 自优化指标
var (
	// ProposalsTotal 生成的改进提案总数
	ProposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_proposals_total",
			Help: "生成的改进提案总数",
		},
		[]string{"agent_id", "type"},
	)

	// ProposalTransitionsTotal 提案状态流转总数
	ProposalTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_proposal_transitions_total",
			Help: "提案状态流转总数",
		},
		[]string{"to_status"},
	)

	// ABSamplesTotal A/B 实验样本总数
	ABSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_ab_samples_total",
			Help: "A/B 实验样本总数",
		},
		[]string{"test_id", "variant"},
	)

	// AnalyzerRunsTotal 性能分析执行总数
	AnalyzerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_analyzer_runs_total",
			Help: "性能分析执行总数",
		},
		[]string{"status"},
	)
)
