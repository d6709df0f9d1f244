package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"backend/internal/common"
	"backend/internal/config"
	"backend/internal/logger"
	"backend/internal/metrics"
)

// Options 单次评估的门禁配置，来自被评 Agent 的配置
type Options struct {
	RequireApproval bool     // 强制人工审批，永不 auto_send
	JudgeTrigger    string   // L3 触发条件
	RuleSet         *RuleSet // 为空用默认规则包
}

// Evaluator 三级评估门禁
// L1 确定性断言 → L2 规则打分 → L3 模型评审，输出唯一决策。
// 评审模型出错时产出只会降级为人工审批，绝不会因此放行。
type Evaluator struct {
	db    *gorm.DB
	judge *Judge

	autoSendThreshold  float64 // L2 聚合分自动放行线
	lowConfidenceFloor float64 // on_low_confidence 触发线

	otel oteltrace.Tracer
}

// NewEvaluator 创建评估器，judge 可以为空（L3 触发时降级人工审批）
func NewEvaluator(db *gorm.DB, judge *Judge, cfg *config.EvalConfig) *Evaluator {
	return &Evaluator{
		db:                 db,
		judge:              judge,
		autoSendThreshold:  cfg.AutoSendThreshold,
		lowConfidenceFloor: cfg.MinConfidence,
		otel:               otel.Tracer("eval"),
	}
}

// Evaluate 评估一次产出并持久化结果
func (e *Evaluator) Evaluate(ctx context.Context, cand *Candidate, opts Options) (*EvalResult, error) {
	ctx, span := e.otel.Start(ctx, "eval.evaluate",
		oteltrace.WithAttributes(
			attribute.String("agent_id", cand.AgentID),
			attribute.String("trace_id", cand.TraceID),
		))
	defer span.End()

	start := time.Now()
	rs := opts.RuleSet
	if rs == nil {
		rs = DefaultRuleSet()
	}

	result := &EvalResult{
		ID:       uuid.New().String(),
		TenantID: cand.TenantID,
		AgentID:  cand.AgentID,
		TraceID:  cand.TraceID,
	}

	// L1 确定性断言
	l1Results, l1Passed := RunAssertions(rs, cand)
	result.L1Passed = l1Passed
	result.L1Results = mustJSON(l1Results)

	// L2 规则打分
	l2Scores, l2Aggregate := ScoreCriteria(rs, cand)
	result.L2Score = l2Aggregate
	result.L2Scores = mustJSON(l2Scores)

	// L3 模型评审
	var judgeResult *JudgeResult
	judgeNeeded := l1Passed && ShouldTrigger(opts.JudgeTrigger, cand, e.lowConfidenceFloor)
	if judgeNeeded {
		result.JudgeTriggered = true
		judgeResult = e.runJudge(ctx, cand, result)
	}

	result.FinalDecision = e.decide(result, l1Results, judgeNeeded, judgeResult, opts)
	result.DurationMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Bool("l1_passed", result.L1Passed),
		attribute.Float64("l2_score", result.L2Score),
		attribute.String("decision", result.FinalDecision),
	)

	if err := e.db.WithContext(ctx).Create(result).Error; err != nil {
		return nil, fmt.Errorf("保存评估结果失败: %w", err)
	}

	metrics.EvalDecisionsTotal.WithLabelValues(cand.AgentID, result.FinalDecision).Inc()
	metrics.EvalDuration.WithLabelValues(cand.AgentID).Observe(time.Since(start).Seconds())
	return result, nil
}

// runJudge 执行 L3 评审，失败只写入错误信息，降级逻辑在 decide 里
func (e *Evaluator) runJudge(ctx context.Context, cand *Candidate, result *EvalResult) *JudgeResult {
	ctx, span := e.otel.Start(ctx, "eval.judge")
	defer span.End()

	if e.judge == nil {
		result.JudgeError = "评审模型未配置"
		return nil
	}
	jr, err := e.judge.Review(ctx, cand)
	if err != nil {
		result.JudgeError = err.Error()
		logger.Get().Warn("L3评审失败，产出降级人工审批",
			zap.String("trace_id", cand.TraceID), zap.Error(err))
		return nil
	}
	result.JudgeVerdict = jr.Verdict
	result.JudgeConfidence = jr.Confidence
	result.JudgeClaims = mustJSON(jr.Claims)
	span.SetAttributes(
		attribute.String("verdict", jr.Verdict),
		attribute.Float64("confidence", jr.Confidence),
	)
	return jr
}

// decide 决策规则：
//  1. L1 block 级断言失败 → blocked
//  2. L3 判定 fail 且置信度达线 → blocked；置信度不足转人工审批
//  3. L2 达线、L3 通过（或未触发）、无 warn 级失败、Agent 未强制审批 → auto_send
//  4. 其余一律 needs_review；评审出错或置信度不足也落在这里
func (e *Evaluator) decide(result *EvalResult, l1Results []AssertionResult,
	judgeNeeded bool, judgeResult *JudgeResult, opts Options) string {

	if !result.L1Passed {
		result.Notes = "L1断言拦截"
		return DecisionBlocked
	}
	if judgeResult != nil && judgeResult.Verdict == VerdictFail {
		if judgeResult.Confidence >= e.judge.MinConfidence() {
			result.Notes = "L3评审判定不通过: " + judgeResult.Reasoning
			return DecisionBlocked
		}
		result.Notes = fmt.Sprintf("L3评审判定不通过但置信度 %.2f 低于下限 %.2f，转人工审批",
			judgeResult.Confidence, e.judge.MinConfidence())
		return DecisionNeedsReview
	}

	if opts.RequireApproval {
		result.Notes = "Agent配置强制人工审批"
		return DecisionNeedsReview
	}
	if result.L2Score < e.autoSendThreshold {
		result.Notes = fmt.Sprintf("L2得分 %.1f 低于自动放行线 %.1f", result.L2Score, e.autoSendThreshold)
		return DecisionNeedsReview
	}
	for _, r := range l1Results {
		if !r.Passed && r.Severity == SeverityWarn {
			result.Notes = "L1警告级断言失败: " + r.Name
			return DecisionNeedsReview
		}
	}
	if judgeNeeded {
		if judgeResult == nil {
			result.Notes = "L3评审不可用，降级人工审批: " + result.JudgeError
			return DecisionNeedsReview
		}
		if judgeResult.Verdict == VerdictRetry {
			result.Notes = "L3评审无法给出可靠判定"
			return DecisionNeedsReview
		}
		if judgeResult.Confidence < e.judge.MinConfidence() {
			result.Notes = fmt.Sprintf("L3评审置信度 %.2f 低于下限 %.2f",
				judgeResult.Confidence, e.judge.MinConfidence())
			return DecisionNeedsReview
		}
		if judgeResult.HallucinatedClaims() > 0 {
			result.Notes = fmt.Sprintf("L3评审发现 %d 条无依据声明", judgeResult.HallucinatedClaims())
			return DecisionNeedsReview
		}
	}
	return DecisionAutoSend
}

// Get 查询评估结果
func (e *Evaluator) Get(ctx context.Context, evalID string) (*EvalResult, error) {
	var result EvalResult
	err := e.db.WithContext(ctx).First(&result, "id = ?", evalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewBusinessError(common.CodeNotFound, "评估结果不存在")
	}
	if err != nil {
		return nil, fmt.Errorf("查询评估结果失败: %w", err)
	}
	return &result, nil
}

// RecordUserAction 回填人工审批的终态动作
func (e *Evaluator) RecordUserAction(ctx context.Context, evalID, action string) error {
	switch action {
	case UserActionApproved, UserActionEdited, UserActionRejected:
	default:
		return common.NewBusinessError(common.CodeInvalidRequest, "非法的审批动作: "+action)
	}
	now := time.Now()
	result := e.db.WithContext(ctx).Model(&EvalResult{}).
		Where("id = ?", evalID).
		Updates(map[string]any{
			"user_action":    action,
			"user_action_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("回填审批动作失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return common.NewBusinessError(common.CodeNotFound, "评估结果不存在")
	}
	return nil
}

func mustJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
