package api

import (
	"fmt"
	"time"

	agentsapi "backend/api/handlers/agents"
	approvalsapi "backend/api/handlers/approvals"
	evalsapi "backend/api/handlers/evals"
	optimizeapi "backend/api/handlers/optimize"
	tracesapi "backend/api/handlers/traces"
	"backend/internal/agent"
	"backend/internal/ai"
	"backend/internal/approval"
	"backend/internal/config"
	"backend/internal/eval"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/optimize"
	"backend/internal/swarm"
	"backend/internal/trace"
	"backend/internal/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 汇集全部服务实例，统一装配依赖
type AppContainer struct {
	Config      *config.Config
	DB          *gorm.DB
	RedisClient *redis.Client
	QueueClient queue.Client

	AgentService *agent.Service
	Tracer       *trace.Tracer
	TraceService *trace.Service

	Judge     *eval.Judge
	Evaluator *eval.Evaluator
	RulePacks *eval.Registry
	Gateway   *approval.Gateway

	Analyzer    *optimize.Analyzer
	Proposals   *optimize.Manager
	Proposer    *optimize.Proposer
	ABTests     *optimize.ABTestManager
	SwarmRunner *swarm.Runner

	Worker *worker.Server

	judgeClient   ai.ModelClient
	refinerClient ai.ModelClient
}

// BuildContainer 按依赖顺序装配服务
// 评审模型客户端创建失败不阻断启动，L3 触发时评估降级为人工审批
func BuildContainer(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*AppContainer, error) {
	c := &AppContainer{
		Config:      cfg,
		DB:          db,
		RedisClient: rdb,
	}

	redisCfg := normalizeRedisConfig(cfg.Redis)
	c.QueueClient = queue.NewClient(redisCfg)

	// 领域服务
	c.AgentService = agent.NewService(db)
	c.Tracer = trace.NewTracer(db)
	c.TraceService = trace.NewService(db)

	// 评估门禁
	judgeClient, err := ai.NewJudgeClient(&cfg.AI.OpenAI)
	if err != nil {
		logger.Get().Warn("评审模型客户端创建失败，L3评审不可用", zap.Error(err))
	} else {
		c.judgeClient = judgeClient
		c.Judge = eval.NewJudge(
			judgeClient,
			time.Duration(cfg.Eval.JudgeTimeoutSeconds)*time.Second,
			cfg.Eval.JudgeMinConfidence,
		)
	}
	c.Evaluator = eval.NewEvaluator(db, c.Judge, &cfg.Eval)

	rulePacks, err := eval.NewRegistry(cfg.Eval.RulePackPath)
	if err != nil {
		return nil, fmt.Errorf("加载评估规则包失败: %w", err)
	}
	c.RulePacks = rulePacks

	// 人工审批
	c.Gateway = approval.NewGateway(db, c.Evaluator, c.TraceService)

	// 自优化流水线
	c.Analyzer = optimize.NewAnalyzer(db, c.TraceService, c.AgentService, rdb, &cfg.Optimize)
	c.Proposals = optimize.NewManager(db, c.AgentService)

	refinerClient, err := ai.NewRefinerClient(&cfg.AI.OpenAI, "")
	if err != nil {
		return nil, fmt.Errorf("创建提示词改写客户端失败: %w", err)
	}
	c.refinerClient = refinerClient
	c.Proposer = optimize.NewProposer(c.Proposals, refinerClient, &cfg.Optimize)
	c.ABTests = optimize.NewABTestManager(db, c.AgentService, c.Proposals, int(cfg.Optimize.ABMinSamples))

	// 后台 Worker
	c.SwarmRunner = swarm.NewRunner(cfg.Swarm.BatchWidth)
	c.Worker = worker.NewServer(redisCfg, c.AgentService, c.Analyzer, c.Proposer, c.SwarmRunner, logger.Get())

	return c, nil
}

// Close 释放容器持有的外部连接
func (c *AppContainer) Close() {
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			logger.Get().Warn("关闭任务队列客户端失败", zap.Error(err))
		}
	}
	if c.judgeClient != nil {
		_ = c.judgeClient.Close()
	}
	if c.refinerClient != nil {
		_ = c.refinerClient.Close()
	}
}

// Handlers HTTP Handler 集合
type Handlers struct {
	Agents      *agentsapi.AgentHandler
	Performance *agentsapi.PerformanceHandler
	Traces      *tracesapi.TraceHandler
	Evals       *evalsapi.EvalHandler
	Approvals   *approvalsapi.ApprovalHandler
	Proposals   *optimizeapi.ProposalHandler
	ABTests     *optimizeapi.ABTestHandler
}

// BuildHandlers 由容器构建 Handler 集合
func BuildHandlers(c *AppContainer) *Handlers {
	return &Handlers{
		Agents:      agentsapi.NewAgentHandler(c.AgentService),
		Performance: agentsapi.NewPerformanceHandler(c.TraceService, c.Analyzer, c.QueueClient),
		Traces:      tracesapi.NewTraceHandler(c.TraceService),
		Evals:       evalsapi.NewEvalHandler(c.Evaluator, c.RulePacks),
		Approvals:   approvalsapi.NewApprovalHandler(c.Gateway),
		Proposals:   optimizeapi.NewProposalHandler(c.Proposals, c.QueueClient),
		ABTests:     optimizeapi.NewABTestHandler(c.ABTests),
	}
}
