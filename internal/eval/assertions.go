package eval

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
)

// Candidate 待评估的产出
type Candidate struct {
	TraceID  string
	TenantID string
	AgentID  string
	TaskType string

	Input  string // 任务输入与上下文摘要
	Output string // 拟放行的产出

	IsFirstContact     bool    // 与收件人是否首次交互
	IrreversibleAction bool    // 产出是否触发不可逆动作（发邮件、改单据）
	ModelConfidence    float64 // 运行时自报置信度，0 表示未上报
}

// 未解析占位符：{{name}}、[NAME]、<NAME>、${name}
var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{\{[^{}]*\}\}`),
	regexp.MustCompile(`\[[A-Z][A-Z0-9_ ]{1,40}\]`),
	regexp.MustCompile(`<[A-Z][A-Z0-9_]{1,40}>`),
	regexp.MustCompile(`\$\{[^{}]+\}`),
}

// 首次交互时不应出现的"此前沟通"措辞
var priorExchangePhrases = []string{
	"as i mentioned",
	"as we discussed",
	"as discussed earlier",
	"per my last email",
	"per our conversation",
	"following up on our conversation",
	"如我之前所说",
	"如前所述",
	"上次沟通",
}

type builtinFunc func(a Assertion, cand *Candidate) AssertionResult

var builtinAssertions = map[string]builtinFunc{
	"no_unresolved_placeholders":  checkPlaceholders,
	"no_prior_exchange_reference": checkPriorExchange,
	"length_bounds":               checkLengthBounds,
	"forbidden_phrases":           checkForbiddenPhrases,
}

func checkPlaceholders(a Assertion, cand *Candidate) AssertionResult {
	res := AssertionResult{Name: a.Name, Severity: a.Severity, Passed: true}
	for _, re := range placeholderPatterns {
		if m := re.FindString(cand.Output); m != "" {
			res.Passed = false
			res.Message = "产出包含未解析占位符: " + m
			return res
		}
	}
	return res
}

func checkPriorExchange(a Assertion, cand *Candidate) AssertionResult {
	res := AssertionResult{Name: a.Name, Severity: a.Severity, Passed: true}
	if !cand.IsFirstContact {
		return res
	}
	lower := strings.ToLower(cand.Output)
	for _, phrase := range priorExchangePhrases {
		if strings.Contains(lower, phrase) {
			res.Passed = false
			res.Message = "首次交互的产出引用了不存在的历史沟通: " + phrase
			return res
		}
	}
	return res
}

func checkLengthBounds(a Assertion, cand *Candidate) AssertionResult {
	res := AssertionResult{Name: a.Name, Severity: a.Severity, Passed: true}
	minChars := paramInt(a.Params, "min_chars", 1)
	maxChars := paramInt(a.Params, "max_chars", 0)

	n := len([]rune(cand.Output))
	if n < minChars {
		res.Passed = false
		res.Message = fmt.Sprintf("产出过短: %d 字符，下限 %d", n, minChars)
		return res
	}
	if maxChars > 0 && n > maxChars {
		res.Passed = false
		res.Message = fmt.Sprintf("产出过长: %d 字符，上限 %d", n, maxChars)
	}
	return res
}

func checkForbiddenPhrases(a Assertion, cand *Candidate) AssertionResult {
	res := AssertionResult{Name: a.Name, Severity: a.Severity, Passed: true}
	phrases, _ := a.Params["phrases"].([]any)
	lower := strings.ToLower(cand.Output)
	for _, p := range phrases {
		phrase, ok := p.(string)
		if !ok || phrase == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(phrase)) {
			res.Passed = false
			res.Message = "产出包含禁用措辞: " + phrase
			return res
		}
	}
	return res
}

// RunAssertions 执行 L1 断言
// 返回逐条结果与整体是否通过；block 级失败即整体不通过
func RunAssertions(rs *RuleSet, cand *Candidate) ([]AssertionResult, bool) {
	results := make([]AssertionResult, 0, len(rs.Assertions))
	passed := true
	for _, a := range rs.Assertions {
		var res AssertionResult
		switch a.Type {
		case "expression":
			res = runExpressionAssertion(a, cand)
		default:
			fn, ok := builtinAssertions[a.Name]
			if !ok {
				res = AssertionResult{Name: a.Name, Severity: a.Severity, Passed: false,
					Message: "未知内置断言"}
			} else {
				res = fn(a, cand)
			}
		}
		results = append(results, res)
		if !res.Passed && res.Severity == SeverityBlock {
			passed = false
		}
	}
	return results, passed
}

func runExpressionAssertion(a Assertion, cand *Candidate) AssertionResult {
	res := AssertionResult{Name: a.Name, Severity: a.Severity}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(a.Expression, exprFunctions())
	if err != nil {
		res.Message = "断言表达式解析失败: " + err.Error()
		return res
	}
	value, err := expr.Evaluate(exprParameters(cand))
	if err != nil {
		res.Message = "断言表达式求值失败: " + err.Error()
		return res
	}
	ok, isBool := value.(bool)
	if !isBool {
		res.Message = fmt.Sprintf("断言表达式结果不是布尔值: %v", value)
		return res
	}
	res.Passed = ok
	if !ok {
		res.Message = "断言表达式不成立: " + a.Expression
	}
	return res
}

// exprParameters 表达式可见的产出特征
func exprParameters(cand *Candidate) map[string]any {
	return map[string]any{
		"output":           cand.Output,
		"input":            cand.Input,
		"output_length":    float64(len([]rune(cand.Output))),
		"word_count":       float64(len(strings.Fields(cand.Output))),
		"line_count":       float64(len(strings.Split(cand.Output, "\n"))),
		"model_confidence": cand.ModelConfidence,
		"irreversible":     cand.IrreversibleAction,
		"first_contact":    cand.IsFirstContact,
	}
}

// exprFunctions 表达式可用的字符串函数
func exprFunctions() map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"contains": func(args ...any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("contains 需要 2 个参数")
			}
			s, _ := args[0].(string)
			sub, _ := args[1].(string)
			return strings.Contains(strings.ToLower(s), strings.ToLower(sub)), nil
		},
		"has_prefix": func(args ...any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("has_prefix 需要 2 个参数")
			}
			s, _ := args[0].(string)
			prefix, _ := args[1].(string)
			return strings.HasPrefix(s, prefix), nil
		},
	}
}

func paramInt(params map[string]any, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}
