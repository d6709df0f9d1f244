package optimize

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"backend/internal/agent"
	"backend/internal/logger"
	"backend/internal/optimize"
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
}

func (f *fakeQueue) EnqueueAnalyzeAgent(p tasks.AnalyzeAgentPayload) error {
	f.analyzePayloads = append(f.analyzePayloads, p)
	return nil
}

func (f *fakeQueue) EnqueueAnalyzeSweep(reason string) error {
	f.sweepReasons = append(f.sweepReasons, reason)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

type fixture struct {
	db        *gorm.DB
	agents    *agent.Service
	proposals *optimize.Manager
	tests     *optimize.ABTestManager
	queue     *fakeQueue
	router    *gin.Engine
}

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
	require.NoError(t, db.AutoMigrate(&agent.AgentConfig{}, &optimize.Proposal{}, &optimize.ABTest{}))
	t.Cleanup(func() {
		for _, table := range []string{"ab_tests", "proposals", "agent_configs"} {
			db.Exec("DELETE FROM " + table)
		}
	})

	agents := agent.NewService(db)
	proposals := optimize.NewManager(db, agents)
	tests := optimize.NewABTestManager(db, agents, proposals, 4)

	f := &fixture{
		db:        db,
		agents:    agents,
		proposals: proposals,
		tests:     tests,
		queue:     &fakeQueue{},
	}

	proposalHandler := NewProposalHandler(proposals, f.queue)
	abtestHandler := NewABTestHandler(tests)

	r := gin.New()
	r.Use(identityMiddleware("tenant-1", "ops@acme"))
	r.POST("/api/optimize/sweep", proposalHandler.TriggerSweep)
	r.GET("/api/optimize/proposals", proposalHandler.ListProposals)
	r.GET("/api/optimize/proposals/:id", proposalHandler.GetProposal)
	r.POST("/api/optimize/proposals/:id/approve", proposalHandler.ApproveProposal)
	r.POST("/api/optimize/proposals/:id/reject", proposalHandler.RejectProposal)
	r.POST("/api/optimize/proposals/:id/apply", proposalHandler.ApplyProposal)
	r.POST("/api/optimize/abtests", abtestHandler.StartTest)
	r.GET("/api/optimize/abtests", abtestHandler.ListTests)
	r.GET("/api/optimize/abtests/:id", abtestHandler.GetTest)
	r.GET("/api/optimize/abtests/:id/serve", abtestHandler.ServeVariant)
	r.POST("/api/optimize/abtests/:id/samples", abtestHandler.RecordSample)
	r.POST("/api/optimize/abtests/:id/winner", abtestHandler.SelectWinner)
	r.POST("/api/optimize/abtests/:id/cancel", abtestHandler.CancelTest)
	f.router = r
	return f
}

func (f *fixture) createAgent(t *testing.T) *agent.AgentConfig {
	cfg, err := f.agents.Create(context.Background(), "tenant-1", &agent.CreateAgentRequest{
		AgentType:    "email_drafter",
		Name:         "售后邮件草拟",
		ModelID:      "gpt-4o",
		ModelTier:    agent.TierPremium,
		SystemPrompt: "You draft customer support emails.",
		Temperature:  floatPtr(0.7),
	})
	require.NoError(t, err)
	return cfg
}

func (f *fixture) createProposal(t *testing.T, agentID string) *optimize.Proposal {
	p, err := f.proposals.Create(context.Background(), &optimize.Proposal{
		TenantID:  "tenant-1",
		AgentID:   agentID,
		Type:      optimize.ProposalTypeAdjustTemperature,
		Rationale: "格式类失败占比过高",
	}, optimize.AdjustTemperatureChange{FromTemperature: 0.7, ToTemperature: 0.3})
	require.NoError(t, err)
	return p
}

func floatPtr(v float64) *float64 { return &v }

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestProposalReviewLifecycleOverHTTP(t *testing.T) {
	f := setup(t)
	cfg := f.createAgent(t)
	p := f.createProposal(t, cfg.ID)

	w := postJSON(t, f.router, "/api/optimize/proposals/"+p.ID+"/approve", map[string]any{"note": "合理"})
	assert.Equal(t, http.StatusOK, w.Code)
	var approved optimize.Proposal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &approved))
	assert.Equal(t, optimize.ProposalStatusApproved, approved.Status)
	assert.Equal(t, "ops@acme", approved.ReviewedBy)

	w = postJSON(t, f.router, "/api/optimize/proposals/"+p.ID+"/apply", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := f.agents.Get(context.Background(), "tenant-1", cfg.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
}

func TestApplyPendingProposalConflicts(t *testing.T) {
	f := setup(t)
	cfg := f.createAgent(t)
	p := f.createProposal(t, cfg.ID)

	w := postJSON(t, f.router, "/api/optimize/proposals/"+p.ID+"/apply", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRejectThenApproveConflicts(t *testing.T) {
	f := setup(t)
	cfg := f.createAgent(t)
	p := f.createProposal(t, cfg.ID)

	w := postJSON(t, f.router, "/api/optimize/proposals/"+p.ID+"/reject", map[string]any{"note": "先不动"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, f.router, "/api/optimize/proposals/"+p.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListProposalsFiltersByStatus(t *testing.T) {
	f := setup(t)
	cfg := f.createAgent(t)
	p1 := f.createProposal(t, cfg.ID)

	_, err := f.proposals.Create(context.Background(), &optimize.Proposal{
		TenantID:  "tenant-1",
		AgentID:   cfg.ID,
		Type:      optimize.ProposalTypeModelDowngrade,
		Rationale: "满意度健康且成本偏高",
	}, optimize.ModelDowngradeChange{FromModel: "gpt-4o", ToModel: "gpt-4o-mini", ToTier: agent.TierEconomy})
	require.NoError(t, err)

	_, err = f.proposals.Approve(context.Background(), "tenant-1", p1.ID, "ops@acme", "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/optimize/proposals?status=pending", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Items []optimize.Proposal `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, optimize.ProposalTypeModelDowngrade, resp.Items[0].Type)
}

func TestGetProposalNotFound(t *testing.T) {
	f := setup(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/optimize/proposals/no-such-id", nil)
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerSweepEnqueues(t *testing.T) {
	f := setup(t)

	w := postJSON(t, f.router, "/api/optimize/sweep", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, f.queue.sweepReasons, 1)
	assert.Equal(t, "manual", f.queue.sweepReasons[0])
}
