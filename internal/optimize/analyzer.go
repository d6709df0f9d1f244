package optimize

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backend/internal/agent"
	"backend/internal/config"
	"backend/internal/eval"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/trace"
)

// 投诉类别，与反馈评语的关键词表对应
const (
	ComplaintTooVerbose  = "too_verbose"
	ComplaintTooBrief    = "too_brief"
	ComplaintTooCreative = "too_creative"
	ComplaintTooRobotic  = "too_robotic"
	ComplaintInaccurate  = "inaccurate"
)

// 投诉关键词表，类别按命中次数降序输出
var complaintKeywords = map[string][]string{
	ComplaintTooVerbose:  {"too long", "verbose", "rambling", "repetitive", "太长", "啰嗦"},
	ComplaintTooBrief:    {"too short", "too brief", "not enough detail", "one-liner", "太短", "太简略"},
	ComplaintTooCreative: {"too creative", "making things up", "went off script", "太跳脱", "自由发挥"},
	ComplaintTooRobotic:  {"robotic", "too formal", "stiff", "impersonal", "生硬", "太机械"},
	ComplaintInaccurate:  {"wrong", "incorrect", "inaccurate", "mistake", "made up", "不对", "错误", "瞎编"},
}

// Analyzer 性能分析器
// 扫描尾随窗口内的运行数据，产出每个 Agent 的性能报告
type Analyzer struct {
	db     *gorm.DB
	traces *trace.Service
	agents *agent.Service
	rdb    *redis.Client // 报告缓存，可为空
	cfg    *config.OptimizeConfig
}

// NewAnalyzer 创建分析器，rdb 为空时不缓存报告
func NewAnalyzer(db *gorm.DB, traces *trace.Service, agents *agent.Service, rdb *redis.Client, cfg *config.OptimizeConfig) *Analyzer {
	return &Analyzer{db: db, traces: traces, agents: agents, rdb: rdb, cfg: cfg}
}

// AnalyzeAgent 分析单个 Agent 最近窗口的表现
// 窗口内没有运行时返回 InsufficientData 报告，不算错误
func (a *Analyzer) AnalyzeAgent(ctx context.Context, tenantID, agentID string) (*Report, error) {
	since := time.Now().AddDate(0, 0, -a.cfg.WindowDays)

	window, err := a.traces.WindowStats(ctx, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("聚合窗口统计失败: %w", err)
	}

	report := &Report{
		AgentID:     agentID,
		TenantID:    tenantID,
		GeneratedAt: time.Now(),
		Window:      window,
	}
	if window.RunCount == 0 {
		report.InsufficientData = true
		a.cacheReport(ctx, report)
		return report, nil
	}

	comments, err := a.traces.FeedbackComments(ctx, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("查询反馈评语失败: %w", err)
	}
	report.Complaints = scanComplaints(comments)

	allModes, err := a.traces.FailureModes(ctx, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("统计失败类别失败: %w", err)
	}
	// 投诉类别折算进失败类别排名：运行虽然跑完了，产出质量在用户眼里仍是失败
	for _, c := range report.Complaints {
		allModes = append(allModes, trace.FailureModeCount{
			Mode:  c.Category,
			Count: int64(c.Count),
			Share: float64(c.Count) / float64(window.RunCount),
		})
	}
	sort.Slice(allModes, func(i, j int) bool {
		if allModes[i].Count != allModes[j].Count {
			return allModes[i].Count > allModes[j].Count
		}
		return allModes[i].Mode < allModes[j].Mode
	})
	// 只保留占比达到阈值的类别
	for _, m := range allModes {
		if m.Share >= a.cfg.FailureModeFloor {
			report.FailureModes = append(report.FailureModes, m)
		}
	}

	report.ToolStats, err = a.traces.ToolStats(ctx, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("统计工具使用失败: %w", err)
	}

	report.HallucinationRate, err = a.hallucinationRate(ctx, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("统计幻觉率失败: %w", err)
	}

	report.PerformingWell = window.AvgSatisfaction >= a.cfg.SatisfactionHealthy &&
		window.CompletionRate >= a.cfg.CompletionRateHealthy &&
		report.HallucinationRate < a.cfg.HallucinationRateFloor &&
		len(report.FailureModes) == 0

	a.cacheReport(ctx, report)
	return report, nil
}

// AnalyzeAll 分析全部活跃 Agent，单个 Agent 失败不影响其余
func (a *Analyzer) AnalyzeAll(ctx context.Context) ([]*Report, error) {
	agents, err := a.agents.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*Report, 0, len(agents))
	for _, ag := range agents {
		report, err := a.AnalyzeAgent(ctx, ag.TenantID, ag.ID)
		if err != nil {
			metrics.AnalyzerRunsTotal.WithLabelValues("error").Inc()
			logger.Get().Error("Agent性能分析失败",
				zap.String("agent_id", ag.ID), zap.Error(err))
			continue
		}
		metrics.AnalyzerRunsTotal.WithLabelValues("ok").Inc()
		reports = append(reports, report)
	}
	return reports, nil
}

// hallucinationRate 窗口内评审发现无依据声明的评估占比
func (a *Analyzer) hallucinationRate(ctx context.Context, agentID string, since time.Time) (float64, error) {
	var results []eval.EvalResult
	err := a.db.WithContext(ctx).
		Select("id", "judge_claims").
		Where("agent_id = ? AND created_at >= ? AND judge_triggered = ?", agentID, since, true).
		Find(&results).Error
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}

	hallucinated := 0
	for _, r := range results {
		if len(r.JudgeClaims) == 0 {
			continue
		}
		var claims []eval.Claim
		if err := json.Unmarshal(r.JudgeClaims, &claims); err != nil {
			continue
		}
		for _, c := range claims {
			if !c.Grounded {
				hallucinated++
				break
			}
		}
	}
	return float64(hallucinated) / float64(len(results)), nil
}

// scanComplaints 反馈评语的投诉关键词扫描
func scanComplaints(comments []string) []ComplaintCategory {
	counts := map[string]int{}
	for _, comment := range comments {
		lower := strings.ToLower(comment)
		for category, keywords := range complaintKeywords {
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					counts[category]++
					break
				}
			}
		}
	}
	if len(counts) == 0 {
		return nil
	}

	result := make([]ComplaintCategory, 0, len(counts))
	for category, count := range counts {
		result = append(result, ComplaintCategory{Category: category, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Category < result[j].Category
	})
	return result
}

// ============================================================================
// 报告缓存
// ============================================================================

func reportCacheKey(agentID string) string {
	return "optimize:report:" + agentID
}

// cacheReport 报告写入 redis，失败只记日志
func (a *Analyzer) cacheReport(ctx context.Context, report *Report) {
	if a.rdb == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := a.rdb.Set(ctx, reportCacheKey(report.AgentID), data, 24*time.Hour).Err(); err != nil {
		logger.Get().Warn("缓存分析报告失败", zap.String("agent_id", report.AgentID), zap.Error(err))
	}
}

// CachedReport 读取最近一次缓存的报告，无缓存返回 nil
func (a *Analyzer) CachedReport(ctx context.Context, agentID string) (*Report, error) {
	if a.rdb == nil {
		return nil, nil
	}
	data, err := a.rdb.Get(ctx, reportCacheKey(agentID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取报告缓存失败: %w", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("解析报告缓存失败: %w", err)
	}
	return &report, nil
}
