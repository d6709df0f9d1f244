package eval

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Assertion L1 断言定义
// builtin 类型按 Name 匹配内置检查，expression 类型用 govaluate 表达式
type Assertion struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"` // builtin, expression
	Severity   string         `yaml:"severity"`
	Expression string         `yaml:"expression,omitempty"`
	Params     map[string]any `yaml:"params,omitempty"`
}

// Criterion L2 打分准则，表达式求值结果限制在 [0, 100]
type Criterion struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// RuleSet 一个 Agent 类型使用的完整评估规则包
type RuleSet struct {
	Name       string      `yaml:"name"`
	Assertions []Assertion `yaml:"assertions"`
	Criteria   []Criterion `yaml:"criteria"`
}

// LoadRuleSet 从 YAML 文件加载规则包
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取规则包失败: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet 解析规则包内容并校验
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("解析规则包失败: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate 校验规则包的断言与准则定义
func (rs *RuleSet) Validate() error {
	for i, a := range rs.Assertions {
		if a.Name == "" {
			return fmt.Errorf("规则包 %s: 第 %d 条断言缺少名称", rs.Name, i+1)
		}
		switch a.Severity {
		case SeverityBlock, SeverityWarn, SeverityInfo:
		case "":
			rs.Assertions[i].Severity = SeverityBlock
		default:
			return fmt.Errorf("规则包 %s: 断言 %s 的严重级别非法: %s", rs.Name, a.Name, a.Severity)
		}
		switch a.Type {
		case "builtin", "":
			if _, ok := builtinAssertions[a.Name]; a.Type == "builtin" && !ok {
				return fmt.Errorf("规则包 %s: 未知内置断言 %s", rs.Name, a.Name)
			}
		case "expression":
			if a.Expression == "" {
				return fmt.Errorf("规则包 %s: 表达式断言 %s 缺少表达式", rs.Name, a.Name)
			}
		default:
			return fmt.Errorf("规则包 %s: 断言 %s 的类型非法: %s", rs.Name, a.Name, a.Type)
		}
	}
	for i, c := range rs.Criteria {
		if c.Name == "" {
			return fmt.Errorf("规则包 %s: 第 %d 条准则缺少名称", rs.Name, i+1)
		}
		if c.Expression == "" {
			return fmt.Errorf("规则包 %s: 准则 %s 缺少表达式", rs.Name, c.Name)
		}
	}
	return nil
}

// DefaultRuleSet 未配置规则包时的兜底规则
// 覆盖对外发送类产出最常见的硬伤
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Name: "default",
		Assertions: []Assertion{
			{Name: "no_unresolved_placeholders", Type: "builtin", Severity: SeverityBlock},
			{Name: "no_prior_exchange_reference", Type: "builtin", Severity: SeverityWarn},
			{Name: "length_bounds", Type: "builtin", Severity: SeverityWarn,
				Params: map[string]any{"min_chars": 1, "max_chars": 20000}},
		},
		Criteria: []Criterion{
			{Name: "has_substance", Expression: "output_length >= 40 ? 100 : (output_length * 100 / 40)"},
		},
	}
}
