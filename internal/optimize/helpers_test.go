package optimize

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"backend/internal/agent"
	"backend/internal/ai"
	"backend/internal/config"
	"backend/internal/eval"
	"backend/internal/logger"
	"backend/internal/trace"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fixture struct {
	db        *gorm.DB
	agents    *agent.Service
	traces    *trace.Service
	proposals *Manager
	analyzer  *Analyzer
	cfg       *config.OptimizeConfig
}

func testOptimizeConfig() *config.OptimizeConfig {
	return &config.OptimizeConfig{
		WindowDays:              30,
		FailureModeFloor:        0.10,
		SatisfactionRefineBelow: 3.5,
		SatisfactionHealthy:     4.0,
		CompletionRateHealthy:   0.8,
		HallucinationRateFloor:  0.1,
		CostThreshold:           0.5,
		ToolUsageFloor:          0.05,
		TemperatureTriggerAbove: 0.5,
		TemperatureFloor:        0.3,
		PromptWordBudget:        300,
		ABMinSamples:            50,
	}
}

func setup(t *testing.T) *fixture {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&agent.AgentConfig{}, &trace.Trace{}, &trace.TraceStep{},
		&trace.LLMCall{}, &trace.ToolCall{}, &eval.EvalResult{}, &Proposal{}, &ABTest{}))
	t.Cleanup(func() {
		for _, table := range []string{"ab_tests", "proposals", "eval_results",
			"tool_calls", "llm_calls", "trace_steps", "traces", "agent_configs"} {
			db.Exec("DELETE FROM " + table)
		}
	})

	agents := agent.NewService(db)
	cfg := testOptimizeConfig()
	f := &fixture{
		db:        db,
		agents:    agents,
		traces:    trace.NewService(db),
		proposals: NewManager(db, agents),
		cfg:       cfg,
	}
	f.analyzer = NewAnalyzer(db, f.traces, agents, nil, cfg)
	return f
}

func (f *fixture) createAgent(t *testing.T, mutate func(*agent.CreateAgentRequest)) *agent.AgentConfig {
	req := &agent.CreateAgentRequest{
		AgentType:    "email_drafter",
		Name:         "售后邮件草拟",
		ModelID:      "gpt-4o",
		ModelTier:    agent.TierPremium,
		SystemPrompt: "You draft customer support emails.",
		AllowedTools: []string{"crm_lookup", "email_send"},
	}
	if mutate != nil {
		mutate(req)
	}
	cfg, err := f.agents.Create(context.Background(), "tenant-1", req)
	require.NoError(t, err)
	return cfg
}

// seedRun 种一条窗口内的运行记录
func (f *fixture) seedRun(t *testing.T, agentID, status, failureMode string, rating *int, cost float64) *trace.Trace {
	tr := &trace.Trace{
		ID:             uuid.New().String(),
		TenantID:       "tenant-1",
		AgentID:        agentID,
		Status:         status,
		StartedAt:      time.Now().Add(-time.Hour),
		FailureMode:    failureMode,
		FeedbackRating: rating,
		CostUSD:        cost,
		DurationMs:     1200,
		TotalTokens:    500,
	}
	require.NoError(t, f.db.Create(tr).Error)
	return tr
}

func ratingPtr(v int) *int { return &v }

// fakeRefiner 返回固定改写结果的提示词模型
type fakeRefiner struct {
	response string
	err      error
	calls    int
}

func (f *fakeRefiner) ChatCompletion(ctx context.Context, req *ai.ChatCompletionRequest) (*ai.ChatCompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ai.ChatCompletionResponse{Content: f.response}, nil
}

func (f *fakeRefiner) Name() string { return "fake-refiner" }
func (f *fakeRefiner) Close() error { return nil }
