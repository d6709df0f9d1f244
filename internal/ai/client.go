package ai

import (
	"backend/internal/ai/openai"
	"backend/internal/config"
	"backend/pkg/aiinterface"
)

// 重新导出aiinterface包的类型,保持调用方简洁
type (
	Message                = aiinterface.Message
	ChatCompletionRequest  = aiinterface.ChatCompletionRequest
	ChatCompletionResponse = aiinterface.ChatCompletionResponse
	Usage                  = aiinterface.Usage
	ModelClient            = aiinterface.ModelClient
	ClientConfig           = aiinterface.ClientConfig
	ClientError            = aiinterface.ClientError
	ErrorType              = aiinterface.ErrorType
)

// 重新导出常量
const (
	ErrorTypeAuth          = aiinterface.ErrorTypeAuth
	ErrorTypeRateLimit     = aiinterface.ErrorTypeRateLimit
	ErrorTypeInvalidParams = aiinterface.ErrorTypeInvalidParams
	ErrorTypeServerError   = aiinterface.ErrorTypeServerError
	ErrorTypeNetwork       = aiinterface.ErrorTypeNetwork
	ErrorTypeUnknown       = aiinterface.ErrorTypeUnknown
)

// NewJudgeClient 创建 L3 评审使用的模型客户端
// 评审模型独立于被评估 Agent 所用的模型
func NewJudgeClient(cfg *config.OpenAIConfig) (ModelClient, error) {
	model := cfg.JudgeModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	return openai.NewClient(&ClientConfig{
		Provider:   "openai",
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		OrgID:      cfg.OrgID,
		Model:      model,
		MaxRetries: cfg.MaxRetries,
	})
}

// NewRefinerClient 创建提示词改写使用的模型客户端
func NewRefinerClient(cfg *config.OpenAIConfig, model string) (ModelClient, error) {
	if model == "" {
		model = "gpt-4o"
	}
	return openai.NewClient(&ClientConfig{
		Provider:   "openai",
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		OrgID:      cfg.OrgID,
		Model:      model,
		MaxRetries: cfg.MaxRetries,
	})
}
