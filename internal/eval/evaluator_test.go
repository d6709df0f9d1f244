package eval

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"backend/internal/ai"
	"backend/internal/config"
	"backend/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeJudgeClient 按序返回预置响应的评审模型
type fakeJudgeClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeJudgeClient) ChatCompletion(ctx context.Context, req *ai.ChatCompletionRequest) (*ai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	content := f.responses[len(f.responses)-1]
	if i < len(f.responses) {
		content = f.responses[i]
	}
	return &ai.ChatCompletionResponse{Content: content}, nil
}

func (f *fakeJudgeClient) Name() string { return "fake" }
func (f *fakeJudgeClient) Close() error { return nil }

func setupEvalDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&EvalResult{}))
	t.Cleanup(func() {
		db.Exec("DELETE FROM eval_results")
	})
	return db
}

func testEvalConfig() *config.EvalConfig {
	return &config.EvalConfig{
		AutoSendThreshold:   80,
		MinConfidence:       0.7,
		JudgeMinConfidence:  0.7,
		JudgeTimeoutSeconds: 5,
	}
}

func newTestEvaluator(t *testing.T, client ai.ModelClient) *Evaluator {
	db := setupEvalDB(t)
	var judge *Judge
	if client != nil {
		judge = NewJudge(client, 5*time.Second, 0.7)
	}
	return NewEvaluator(db, judge, testEvalConfig())
}

func goodCandidate() *Candidate {
	return &Candidate{
		TraceID:         "trace-1",
		TenantID:        "tenant-1",
		AgentID:         "agent-1",
		TaskType:        "draft_email",
		Input:           "customer asked for order status of order o-7",
		Output:          "Hello, your order o-7 shipped yesterday and should arrive within two business days.",
		ModelConfidence: 0.95,
	}
}

func TestBlockedByL1DominatesL2(t *testing.T) {
	ev := newTestEvaluator(t, nil)

	cand := goodCandidate()
	cand.Output = "Dear {{customer_name}}, your order shipped."

	result, err := ev.Evaluate(context.Background(), cand, Options{JudgeTrigger: TriggerNever})
	require.NoError(t, err)
	assert.False(t, result.L1Passed)
	// L2 分再高也改变不了 L1 拦截
	assert.Equal(t, DecisionBlocked, result.FinalDecision)
}

func TestAutoSendHappyPath(t *testing.T) {
	ev := newTestEvaluator(t, nil)

	result, err := ev.Evaluate(context.Background(), goodCandidate(), Options{JudgeTrigger: TriggerNever})
	require.NoError(t, err)
	assert.True(t, result.L1Passed)
	assert.GreaterOrEqual(t, result.L2Score, 80.0)
	assert.False(t, result.JudgeTriggered)
	assert.Equal(t, DecisionAutoSend, result.FinalDecision)
}

func TestLowL2ScoreNeedsReview(t *testing.T) {
	ev := newTestEvaluator(t, nil)

	cand := goodCandidate()
	cand.Output = "Ok."

	result, err := ev.Evaluate(context.Background(), cand, Options{JudgeTrigger: TriggerNever})
	require.NoError(t, err)
	assert.True(t, result.L1Passed)
	assert.Less(t, result.L2Score, 80.0)
	assert.Equal(t, DecisionNeedsReview, result.FinalDecision)
}

func TestRequireApprovalNeverAutoSends(t *testing.T) {
	ev := newTestEvaluator(t, nil)

	result, err := ev.Evaluate(context.Background(), goodCandidate(),
		Options{JudgeTrigger: TriggerNever, RequireApproval: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionNeedsReview, result.FinalDecision)
}

func TestJudgeFailBlocks(t *testing.T) {
	client := &fakeJudgeClient{responses: []string{
		`{"verdict":"fail","confidence":0.9,"reasoning":"promises a refund the input never authorized"}`,
	}}
	ev := newTestEvaluator(t, client)

	result, err := ev.Evaluate(context.Background(), goodCandidate(), Options{JudgeTrigger: TriggerAlways})
	require.NoError(t, err)
	assert.True(t, result.JudgeTriggered)
	assert.Equal(t, VerdictFail, result.JudgeVerdict)
	assert.Equal(t, DecisionBlocked, result.FinalDecision)
	assert.Contains(t, result.Notes, "refund")
}

func TestJudgeLowConfidenceFailNeedsReview(t *testing.T) {
	client := &fakeJudgeClient{responses: []string{
		`{"verdict":"fail","confidence":0.3,"reasoning":"might be overpromising"}`,
	}}
	ev := newTestEvaluator(t, client)

	result, err := ev.Evaluate(context.Background(), goodCandidate(), Options{JudgeTrigger: TriggerAlways})
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, result.JudgeVerdict)
	// fail 裁决没到置信度下限，只能降级人工审批，不直接拦截
	assert.Equal(t, DecisionNeedsReview, result.FinalDecision)
	assert.NotEmpty(t, result.Notes)
}

func TestJudgePassAutoSends(t *testing.T) {
	client := &fakeJudgeClient{responses: []string{
		`{"verdict":"pass","confidence":0.92,"claims":[{"text":"order shipped yesterday","grounded":true}]}`,
	}}
	ev := newTestEvaluator(t, client)

	result, err := ev.Evaluate(context.Background(), goodCandidate(), Options{JudgeTrigger: TriggerAlways})
	require.NoError(t, err)
	assert.Equal(t, DecisionAutoSend, result.FinalDecision)
}

func TestJudgeErrorNeverAutoSends(t *testing.T) {
	client := &fakeJudgeClient{errs: []error{errors.New("api down"), errors.New("api down")}}
	ev := newTestEvaluator(t, client)

	result, err := ev.Evaluate(context.Background(), goodCandidate(), Options{JudgeTrigger: TriggerAlways})
	require.NoError(t, err)
	assert.True(t, result.JudgeTriggered)
	assert.NotEmpty(t, result.JudgeError)
	assert.Equal(t, DecisionNeedsReview, result.FinalDecision)
}

func TestJudgeUnavailableNeedsReview(t *testing.T) {
	ev := newTestEvaluator(t, nil) // 没有评审客户端

	result, err := ev.Evaluate(context.Background(), goodCandidate(), Options{JudgeTrigger: TriggerAlways})
	require.NoError(t, err)
	assert.Equal(t, DecisionNeedsReview, result.FinalDecision)
	assert.Contains(t, result.Notes, "评审不可用")
}

func TestJudgeLowConfidenceNeedsReview(t *testing.T) {
	client := &fakeJudgeClient{responses: []string{
		`{"verdict":"pass","confidence":0.4}`,
	}}
	ev := newTestEvaluator(t, client)

	result, err := ev.Evaluate(context.Background(), goodCandidate(), Options{JudgeTrigger: TriggerAlways})
	require.NoError(t, err)
	assert.Equal(t, DecisionNeedsReview, result.FinalDecision)
}

func TestJudgeHallucinationNeedsReview(t *testing.T) {
	client := &fakeJudgeClient{responses: []string{
		`{"verdict":"pass","confidence":0.9,"claims":[{"text":"we offer a 50% discount","grounded":false}]}`,
	}}
	ev := newTestEvaluator(t, client)

	result, err := ev.Evaluate(context.Background(), goodCandidate(), Options{JudgeTrigger: TriggerAlways})
	require.NoError(t, err)
	assert.Equal(t, DecisionNeedsReview, result.FinalDecision)
	assert.Contains(t, result.Notes, "无依据声明")
}

func TestJudgeRetryThenPass(t *testing.T) {
	client := &fakeJudgeClient{responses: []string{
		`{"verdict":"retry","confidence":0.1}`,
		`{"verdict":"pass","confidence":0.9}`,
	}}
	ev := newTestEvaluator(t, client)

	result, err := ev.Evaluate(context.Background(), goodCandidate(), Options{JudgeTrigger: TriggerAlways})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, DecisionAutoSend, result.FinalDecision)
}

func TestJudgeTriggerModes(t *testing.T) {
	cand := goodCandidate()

	assert.True(t, ShouldTrigger(TriggerAlways, cand, 0.7))
	assert.False(t, ShouldTrigger(TriggerNever, cand, 0.7))

	assert.False(t, ShouldTrigger(TriggerOnIrreversible, cand, 0.7))
	cand.IrreversibleAction = true
	assert.True(t, ShouldTrigger(TriggerOnIrreversible, cand, 0.7))

	cand.ModelConfidence = 0.9
	assert.False(t, ShouldTrigger(TriggerOnLowConfidence, cand, 0.7))
	cand.ModelConfidence = 0.5
	assert.True(t, ShouldTrigger(TriggerOnLowConfidence, cand, 0.7))
	cand.ModelConfidence = 0 // 未上报按低置信度处理
	assert.True(t, ShouldTrigger(TriggerOnLowConfidence, cand, 0.7))
}

func TestWarnAssertionDowngradesToReview(t *testing.T) {
	ev := newTestEvaluator(t, nil)

	cand := goodCandidate()
	cand.IsFirstContact = true
	cand.Output = "Hello, as we discussed, your order o-7 shipped yesterday and arrives within two days."

	result, err := ev.Evaluate(context.Background(), cand, Options{JudgeTrigger: TriggerNever})
	require.NoError(t, err)
	assert.True(t, result.L1Passed) // warn 级失败不算整体失败
	assert.Equal(t, DecisionNeedsReview, result.FinalDecision)
}

func TestRecordUserAction(t *testing.T) {
	ev := newTestEvaluator(t, nil)
	ctx := context.Background()

	result, err := ev.Evaluate(ctx, goodCandidate(), Options{JudgeTrigger: TriggerNever, RequireApproval: true})
	require.NoError(t, err)

	require.NoError(t, ev.RecordUserAction(ctx, result.ID, UserActionApproved))

	got, err := ev.Get(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, UserActionApproved, got.UserAction)
	assert.NotNil(t, got.UserActionAt)

	require.Error(t, ev.RecordUserAction(ctx, result.ID, "shrug"))
	require.Error(t, ev.RecordUserAction(ctx, "missing", UserActionApproved))
}
