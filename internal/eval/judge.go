package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backend/internal/ai"
	"backend/internal/metrics"
)

// 评审触发条件
const (
	TriggerAlways          = "always"
	TriggerOnIrreversible  = "on_irreversible_action"
	TriggerOnLowConfidence = "on_low_confidence"
	TriggerNever           = "never"
)

// JudgeResult L3 评审结果
type JudgeResult struct {
	Verdict    string  `json:"verdict"` // pass, fail, retry
	Confidence float64 `json:"confidence"`
	Claims     []Claim `json:"claims,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Judge 模型评审器
// 评审模型与被评 Agent 的模型相互独立，评审失败绝不放行产出
type Judge struct {
	client        ai.ModelClient
	timeout       time.Duration
	minConfidence float64
}

// NewJudge 创建评审器
func NewJudge(client ai.ModelClient, timeout time.Duration, minConfidence float64) *Judge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Judge{client: client, timeout: timeout, minConfidence: minConfidence}
}

// MinConfidence 评审结论生效的最低置信度
func (j *Judge) MinConfidence() float64 { return j.minConfidence }

// ShouldTrigger 判断当前产出是否需要 L3 评审
func ShouldTrigger(trigger string, cand *Candidate, lowConfidenceFloor float64) bool {
	switch trigger {
	case TriggerAlways:
		return true
	case TriggerOnIrreversible:
		return cand.IrreversibleAction
	case TriggerOnLowConfidence:
		// 未上报置信度按低置信度处理
		return cand.ModelConfidence == 0 || cand.ModelConfidence < lowConfidenceFloor
	default:
		return false
	}
}

const judgeSystemPrompt = `你是一个严格的业务产出评审员。给定任务输入和 AI 产出，判断产出是否可以直接对外执行。
检查要点：事实声明是否有输入依据（无依据即幻觉）、是否完成了任务要求、语气是否得体、是否包含不该出现的承诺。
只输出 JSON，格式：
{"verdict":"pass|fail|retry","confidence":0.0到1.0,"claims":[{"text":"产出中的事实声明","grounded":true}],"reasoning":"一句话理由"}
verdict 取值：pass=可以执行；fail=有实质问题必须拦截；retry=你无法可靠判断。`

// Review 执行一次评审，verdict 为 retry 时自动重试一次
func (j *Judge) Review(ctx context.Context, cand *Candidate) (*JudgeResult, error) {
	result, err := j.reviewOnce(ctx, cand)
	if err == nil && result.Verdict == VerdictRetry {
		result, err = j.reviewOnce(ctx, cand)
	}
	if err != nil {
		metrics.JudgeCallsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.JudgeCallsTotal.WithLabelValues(result.Verdict).Inc()
	return result, nil
}

func (j *Judge) reviewOnce(ctx context.Context, cand *Candidate) (*JudgeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("任务类型: %s\n\n任务输入:\n%s\n\nAI 产出:\n%s",
		cand.TaskType, cand.Input, cand.Output)

	resp, err := j.client.ChatCompletion(ctx, &ai.ChatCompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("评审模型调用失败: %w", err)
	}

	var result JudgeResult
	content := strings.TrimSpace(resp.Content)
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("评审结果解析失败: %w", err)
	}
	switch result.Verdict {
	case VerdictPass, VerdictFail, VerdictRetry:
	default:
		return nil, fmt.Errorf("评审结果判定非法: %q", result.Verdict)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, fmt.Errorf("评审置信度超出范围: %v", result.Confidence)
	}
	return &result, nil
}

// HallucinatedClaims 评审结果中无依据的声明数
func (r *JudgeResult) HallucinatedClaims() int {
	n := 0
	for _, c := range r.Claims {
		if !c.Grounded {
			n++
		}
	}
	return n
}
