package eval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"backend/internal/logger"
)

// Registry 规则包注册表
// 启动时从目录加载全部 YAML 规则包，按名称取用；取不到回落到内置规则
type Registry struct {
	packs map[string]*RuleSet
}

// NewRegistry 加载目录下的全部规则包，dir 为空时返回只含内置规则的注册表
// 单个文件解析失败记日志跳过，不阻断启动
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{packs: make(map[string]*RuleSet)}
	if dir == "" {
		return r, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取规则包目录失败: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rs, err := LoadRuleSet(path)
		if err != nil {
			logger.Get().Warn("规则包加载失败，已跳过",
				zap.String("path", path), zap.Error(err))
			continue
		}
		if rs.Name == "" {
			rs.Name = strings.TrimSuffix(entry.Name(), ext)
		}
		r.packs[rs.Name] = rs
	}
	return r, nil
}

// Get 按名称取规则包，名称为空或未注册时返回内置规则
func (r *Registry) Get(name string) *RuleSet {
	if name != "" {
		if rs, ok := r.packs[name]; ok {
			return rs
		}
	}
	return DefaultRuleSet()
}

// Names 已注册的规则包名称
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.packs))
	for name := range r.packs {
		names = append(names, name)
	}
	return names
}
