package trace

import "strings"

// 归一化失败类别，性能分析按此聚合
const (
	FailureModeTimeout       = "timeout"
	FailureModeToolError     = "tool_error"
	FailureModeLLMError      = "llm_error"
	FailureModeRateLimit     = "rate_limited"
	FailureModeBadOutput     = "malformed_output"
	FailureModeRefusal       = "model_refusal"
	FailureModeContextLength = "context_overflow"
	FailureModeUnknown       = "unknown"
)

// 错误文本关键词到失败类别的映射，顺序即优先级
var failureKeywords = []struct {
	mode     string
	keywords []string
}{
	{FailureModeTimeout, []string{"timeout", "deadline exceeded", "timed out", "超时"}},
	{FailureModeRateLimit, []string{"rate limit", "429", "too many requests", "限流"}},
	{FailureModeContextLength, []string{"context length", "maximum context", "token limit", "上下文超长"}},
	{FailureModeRefusal, []string{"refuse", "cannot assist", "i can't help", "拒绝回答"}},
	{FailureModeBadOutput, []string{"unmarshal", "invalid json", "parse error", "malformed", "解析失败"}},
	{FailureModeToolError, []string{"tool", "工具"}},
	{FailureModeLLMError, []string{"llm", "model", "completion", "api error", "模型"}},
}

// CategorizeFailure 将原始错误文本归一化为失败类别
func CategorizeFailure(errMsg string) string {
	if errMsg == "" {
		return FailureModeUnknown
	}
	lower := strings.ToLower(errMsg)
	for _, entry := range failureKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.mode
			}
		}
	}
	return FailureModeUnknown
}
