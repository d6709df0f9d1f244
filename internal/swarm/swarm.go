package swarm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"backend/internal/logger"
)

// Unit 一个可并发执行的工作单元
type Unit struct {
	ID  string
	Run func(ctx context.Context) error
}

// Result 单元执行结果
type Result struct {
	ID      string
	Err     error
	Skipped bool // 批次边界检测到取消时未执行直接标记失败
}

// Runner 批次扇出执行器
// 固定批宽并发执行，等整批收尾再开下一批。
// 取消只在批次边界生效：进行中的批次跑完，后面的单元全部标记跳过，
// 单元内的错误和 panic 只影响自己，绝不拖垮同批兄弟。
type Runner struct {
	width int
}

// NewRunner 创建执行器，width <= 0 时用默认批宽 10
func NewRunner(width int) *Runner {
	if width <= 0 {
		width = 10
	}
	return &Runner{width: width}
}

// Width 当前批宽
func (r *Runner) Width() int { return r.width }

// Run 执行全部单元，返回与输入等长的结果（顺序一致）
func (r *Runner) Run(ctx context.Context, units []Unit) []Result {
	results := make([]Result, len(units))

	for start := 0; start < len(units); start += r.width {
		// 批次边界检查取消
		if err := ctx.Err(); err != nil {
			reason := fmt.Errorf("批次调度取消: %w", err)
			for i := start; i < len(units); i++ {
				results[i] = Result{ID: units[i].ID, Err: reason, Skipped: true}
			}
			return results
		}

		end := start + r.width
		if end > len(units) {
			end = len(units)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = Result{
					ID:  units[idx].ID,
					Err: runUnit(ctx, units[idx]),
				}
			}(i)
		}
		wg.Wait()
	}
	return results
}

// runUnit 执行单个单元，panic 转为错误
func runUnit(ctx context.Context, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("单元执行panic: %v", r)
			logger.Get().Error("批次单元panic",
				zap.String("unit_id", unit.ID),
				zap.Any("panic", r))
		}
	}()
	return unit.Run(ctx)
}
