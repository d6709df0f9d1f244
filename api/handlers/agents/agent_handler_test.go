package agents

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"backend/internal/agent"
	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/optimize"
	"backend/internal/trace"
	"backend/internal/worker/tasks"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeQueue 记录入队调用的队列客户端
type fakeQueue struct {
	analyzePayloads []tasks.AnalyzeAgentPayload
	sweepReasons    []string
	err             error
}

func (f *fakeQueue) EnqueueAnalyzeAgent(p tasks.AnalyzeAgentPayload) error {
	if f.err != nil {
		return f.err
	}
	f.analyzePayloads = append(f.analyzePayloads, p)
	return nil
}

func (f *fakeQueue) EnqueueAnalyzeSweep(reason string) error {
	if f.err != nil {
		return f.err
	}
	f.sweepReasons = append(f.sweepReasons, reason)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

type fixture struct {
	db     *gorm.DB
	agents *agent.Service
	traces *trace.Service
	queue  *fakeQueue
	router *gin.Engine
}

// identityMiddleware 注入租户与操作者身份，与网关头等价
func identityMiddleware(tenantID, userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("tenant_id", tenantID)
		c.Set("user_id", userID)
		c.Next()
	}
}

func setup(t *testing.T) *fixture {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&agent.AgentConfig{}, &trace.Trace{}, &trace.TraceStep{},
		&trace.LLMCall{}, &trace.ToolCall{}))
	t.Cleanup(func() {
		for _, table := range []string{"tool_calls", "llm_calls", "trace_steps", "traces", "agent_configs"} {
			db.Exec("DELETE FROM " + table)
		}
	})

	f := &fixture{
		db:     db,
		agents: agent.NewService(db),
		traces: trace.NewService(db),
		queue:  &fakeQueue{},
	}

	analyzer := optimize.NewAnalyzer(db, f.traces, f.agents, nil, &config.OptimizeConfig{
		WindowDays:       30,
		FailureModeFloor: 0.10,
	})

	agentHandler := NewAgentHandler(f.agents)
	perfHandler := NewPerformanceHandler(f.traces, analyzer, f.queue)

	r := gin.New()
	r.Use(identityMiddleware("tenant-1", "reviewer-1"))
	r.GET("/api/agents", agentHandler.ListAgents)
	r.POST("/api/agents", agentHandler.CreateAgent)
	r.GET("/api/agents/:id", agentHandler.GetAgent)
	r.PUT("/api/agents/:id", agentHandler.UpdateAgent)
	r.DELETE("/api/agents/:id", agentHandler.DeleteAgent)
	r.POST("/api/agents/:id/analyze", perfHandler.TriggerAnalysis)
	r.GET("/api/agents/:id/performance/summary", perfHandler.GetSummary)
	r.GET("/api/agents/:id/performance/failure-modes", perfHandler.GetFailureModes)
	f.router = r
	return f
}

func (f *fixture) createAgent(t *testing.T) *agent.AgentConfig {
	body := map[string]any{
		"agentType":    "email_drafter",
		"name":         "售后邮件草拟",
		"modelId":      "gpt-4o",
		"modelTier":    agent.TierPremium,
		"systemPrompt": "You draft customer support emails.",
		"allowedTools": []string{"crm_lookup", "email_send"},
	}
	raw, _ := json.Marshal(body)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/agents", bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var cfg agent.AgentConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	return &cfg
}

func TestCreateAndGetAgent(t *testing.T) {
	f := setup(t)
	created := f.createAgent(t)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "tenant-1", created.TenantID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/agents/"+created.ID, nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var got agent.AgentConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "售后邮件草拟", got.Name)
}

func TestGetAgentNotFound(t *testing.T) {
	f := setup(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/agents/no-such-agent", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
}

func TestCreateAgentInvalidBody(t *testing.T) {
	f := setup(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/agents", bytes.NewBufferString("{invalid"))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAgentsPagination(t *testing.T) {
	f := setup(t)
	f.createAgent(t)
	f.createAgent(t)
	f.createAgent(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/agents?page=1&page_size=2", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Items      []agent.AgentConfig `json:"items"`
		Pagination struct {
			Total     int64 `json:"total"`
			TotalPage int   `json:"total_page"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 2)
	assert.Equal(t, int64(3), resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.TotalPage)
}

func TestUpdateAgent(t *testing.T) {
	f := setup(t)
	created := f.createAgent(t)

	body, _ := json.Marshal(map[string]any{"name": "售后邮件草拟 v2", "temperature": 0.2})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/agents/"+created.ID, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var got agent.AgentConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "售后邮件草拟 v2", got.Name)
	assert.InDelta(t, 0.2, got.Temperature, 1e-9)
}

func TestDeleteAgent(t *testing.T) {
	f := setup(t)
	created := f.createAgent(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/api/agents/"+created.ID, nil)
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/agents/"+created.ID, nil)
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerAnalysisEnqueues(t *testing.T) {
	f := setup(t)
	created := f.createAgent(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/agents/"+created.ID+"/analyze", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, f.queue.analyzePayloads, 1)
	assert.Equal(t, "tenant-1", f.queue.analyzePayloads[0].TenantID)
	assert.Equal(t, created.ID, f.queue.analyzePayloads[0].AgentID)
}

func TestPerformanceSummary(t *testing.T) {
	f := setup(t)
	created := f.createAgent(t)

	for i, status := range []string{trace.StatusCompleted, trace.StatusCompleted, trace.StatusFailed} {
		tr := &trace.Trace{
			ID:          uuid.New().String(),
			TenantID:    "tenant-1",
			AgentID:     created.ID,
			Status:      status,
			StartedAt:   time.Now().Add(-time.Duration(i+1) * time.Hour),
			DurationMs:  1000,
			TotalTokens: 400,
		}
		require.NoError(t, f.db.Create(tr).Error)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/agents/"+created.ID+"/performance/summary?days=7", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var stats trace.WindowStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.RunCount)
	assert.Equal(t, int64(2), stats.CompletedCount)
	assert.Equal(t, int64(1), stats.FailedCount)
}

func TestFailureModesEndpoint(t *testing.T) {
	f := setup(t)
	created := f.createAgent(t)

	for _, mode := range []string{"tool_error", "tool_error", "timeout"} {
		status := trace.StatusFailed
		if mode == "timeout" {
			status = trace.StatusTimeout
		}
		tr := &trace.Trace{
			ID:          uuid.New().String(),
			TenantID:    "tenant-1",
			AgentID:     created.ID,
			Status:      status,
			StartedAt:   time.Now().Add(-time.Hour),
			FailureMode: mode,
		}
		require.NoError(t, f.db.Create(tr).Error)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/agents/"+created.ID+"/performance/failure-modes", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var modes []trace.FailureModeCount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &modes))
	require.NotEmpty(t, modes)
	assert.Equal(t, "tool_error", modes[0].Mode)
	assert.Equal(t, int64(2), modes[0].Count)
}
