package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueAnalyzeAgent(payload tasks.AnalyzeAgentPayload) error
	EnqueueAnalyzeSweep(reason string) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueAnalyzeAgent(payload tasks.AnalyzeAgentPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeAnalyzeAgent, data)

	// 同一 Agent 十分钟内只排一次，避免重复分析
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("optimize"),
		asynq.Unique(10*time.Minute),
	)
	if err != nil && err != asynq.ErrDuplicateTask {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueAnalyzeSweep(reason string) error {
	data, err := json.Marshal(tasks.AnalyzeSweepPayload{Reason: reason})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeAnalyzeSweep, data)

	// 全量扫描耗时较长，不重试，靠下一轮调度补偿
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("optimize"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
