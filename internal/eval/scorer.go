package eval

import (
	"github.com/Knetic/govaluate"
)

// ScoreCriteria 执行 L2 规则打分
// 每条准则的表达式求值为 0-100 的分数（布尔结果折算 100/0），
// 聚合取所有准则的最小值：任何一个维度不过关，整体就不过关。
// 无准则时视为满分，门禁交给 L1 与 L3。
func ScoreCriteria(rs *RuleSet, cand *Candidate) ([]CriterionScore, float64) {
	if len(rs.Criteria) == 0 {
		return nil, 100
	}

	params := exprParameters(cand)
	funcs := exprFunctions()

	scores := make([]CriterionScore, 0, len(rs.Criteria))
	aggregate := 100.0
	for _, c := range rs.Criteria {
		cs := CriterionScore{Name: c.Name}
		cs.Score, cs.Error = evalCriterion(c, params, funcs)
		scores = append(scores, cs)
		if cs.Score < aggregate {
			aggregate = cs.Score
		}
	}
	return scores, aggregate
}

// evalCriterion 单条准则求值，失败保守计 0 分
func evalCriterion(c Criterion, params map[string]any, funcs map[string]govaluate.ExpressionFunction) (float64, string) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(c.Expression, funcs)
	if err != nil {
		return 0, "准则表达式解析失败: " + err.Error()
	}
	value, err := expr.Evaluate(params)
	if err != nil {
		return 0, "准则表达式求值失败: " + err.Error()
	}

	switch v := value.(type) {
	case bool:
		if v {
			return 100, ""
		}
		return 0, ""
	case float64:
		return clampScore(v), ""
	default:
		return 0, "准则表达式结果不是数值或布尔值"
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
