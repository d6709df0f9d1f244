package aiinterface

import "context"

// Message 消息结构
type Message struct {
	Role    string `json:"role"`           // system, user, assistant
	Content string `json:"content"`        // 消息内容
	Name    string `json:"name,omitempty"` // 发送消息的 Author 名称
}

// ChatCompletionRequest 对话补全请求
type ChatCompletionRequest struct {
	Messages    []Message      `json:"messages"`              // 消息列表
	Temperature float64        `json:"temperature"`           // 温度参数（0-2）
	MaxTokens   int            `json:"max_tokens"`            // 最大 Token 数
	TopP        float64        `json:"top_p"`                 // Top P 采样
	JSONMode    bool           `json:"json_mode,omitempty"`   // 要求模型输出 JSON 对象
	ExtraParams map[string]any `json:"extra_params,omitempty"` // 额外参数
}

// ChatCompletionResponse 对话补全响应
type ChatCompletionResponse struct {
	ID      string `json:"id"`      // 响应 ID
	Model   string `json:"model"`   // 使用的模型
	Content string `json:"content"` // 生成的内容
	Usage   Usage  `json:"usage"`   // Token 使用情况
}

// Usage Token 使用情况
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`     // 输入 Token 数
	CompletionTokens int `json:"completion_tokens"` // 输出 Token 数
	TotalTokens      int `json:"total_tokens"`      // 总 Token 数
}

// ModelClient AI 模型客户端统一接口
// 核心只在 L3 评审与提示词改写时发起模型调用，Agent 自身的调用由外部运行时负责
type ModelClient interface {
	// ChatCompletion 对话补全（非流式）
	ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// Name 返回客户端名称（如 "openai"）
	Name() string

	// Close 关闭客户端连接
	Close() error
}

// ClientConfig 客户端配置
type ClientConfig struct {
	Provider   string // 提供商（openai, custom）
	APIKey     string // API Key
	BaseURL    string // 基础 URL
	Model      string // 模型标识
	OrgID      string // 组织 ID（OpenAI）
	MaxRetries int    // 最大重试次数
	Timeout    int    // 超时时间（秒）
}

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeAuth          ErrorType = "auth"           // 认证错误
	ErrorTypeRateLimit     ErrorType = "rate_limit"     // 速率限制
	ErrorTypeInvalidParams ErrorType = "invalid_params" // 参数错误
	ErrorTypeServerError   ErrorType = "server_error"   // 服务器错误
	ErrorTypeNetwork       ErrorType = "network"        // 网络错误
	ErrorTypeUnknown       ErrorType = "unknown"        // 未知错误
)

// ClientError 客户端错误
type ClientError struct {
	Type    ErrorType // 错误类型
	Message string    // 错误消息
	Err     error     // 原始错误
}

// Error 实现error接口
func (e *ClientError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始错误
func (e *ClientError) Unwrap() error {
	return e.Err
}

// IsRetryable 判断错误是否可重试
func (e *ClientError) IsRetryable() bool {
	return e.Type == ErrorTypeRateLimit || e.Type == ErrorTypeNetwork || e.Type == ErrorTypeServerError
}
