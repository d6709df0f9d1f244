package openai

import (
	"context"
	"strings"
	"time"

	"backend/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
)

// Client OpenAI 客户端适配器
type Client struct {
	client     *openai.Client
	modelID    string
	maxRetries int
}

// NewClient 创建 OpenAI 客户端
func NewClient(config *aiinterface.ClientConfig) (*Client, error) {
	// 验证配置
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "OpenAI API Key 不能为空",
		}
	}

	// 创建配置
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}

	// 设置默认值
	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &Client{
		client:     openai.NewClientWithConfig(clientConfig),
		modelID:    config.Model,
		maxRetries: maxRetries,
	}, nil
}

// ChatCompletion 对话补全（非流式）
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	// 转换消息格式
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	// 构建请求
	openaiReq := openai.ChatCompletionRequest{
		Model:       c.modelID,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        float32(req.TopP),
	}
	if req.JSONMode {
		openaiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	// 调用 API（带重试）
	var resp openai.ChatCompletionResponse
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.CreateChatCompletion(ctx, openaiReq)
		if err == nil {
			break
		}

		// 判断是否可重试
		if !isRetryableError(err) {
			break
		}

		// 指数退避
		if i < c.maxRetries {
			backoff := time.Duration(1<<uint(i)) * time.Second
			time.Sleep(backoff)
		}
	}

	if err != nil {
		return nil, wrapError(err)
	}

	// 转换响应
	if len(resp.Choices) == 0 {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeServerError,
			Message: "API 返回空响应",
		}
	}

	return &aiinterface.ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Name 返回客户端名称
func (c *Client) Name() string {
	return "openai"
}

// Close 关闭客户端
func (c *Client) Close() error {
	// OpenAI 客户端无需显式关闭
	return nil
}

// isRetryableError 判断错误是否可重试
func isRetryableError(err error) bool {
	// 简化判断：网络错误和服务器错误可重试
	errMsg := err.Error()
	return contains(errMsg, "timeout") ||
		contains(errMsg, "connection") ||
		contains(errMsg, "rate limit") ||
		contains(errMsg, "500") ||
		contains(errMsg, "502") ||
		contains(errMsg, "503") ||
		contains(errMsg, "504")
}

// wrapError 将 OpenAI 错误转换为统一错误类型
func wrapError(err error) error {
	errMsg := err.Error()
	errType := aiinterface.ErrorTypeUnknown

	switch {
	case contains(errMsg, "401") || contains(errMsg, "invalid api key"):
		errType = aiinterface.ErrorTypeAuth
	case contains(errMsg, "429") || contains(errMsg, "rate limit"):
		errType = aiinterface.ErrorTypeRateLimit
	case contains(errMsg, "400") || contains(errMsg, "invalid"):
		errType = aiinterface.ErrorTypeInvalidParams
	case contains(errMsg, "500") || contains(errMsg, "502") || contains(errMsg, "503"):
		errType = aiinterface.ErrorTypeServerError
	case contains(errMsg, "timeout") || contains(errMsg, "connection"):
		errType = aiinterface.ErrorTypeNetwork
	}

	return &aiinterface.ClientError{
		Type:    errType,
		Message: "OpenAI 调用失败",
		Err:     err,
	}
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
