package common

// ============================================================================
// 通用请求类型
// ============================================================================

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `json:"page" form:"page" binding:"omitempty,min=1"`           // 页码，从1开始
	PageSize int `json:"page_size" form:"page_size" binding:"omitempty,min=1"` // 每页数量
}

// DefaultPagination 返回默认分页参数
func DefaultPagination() PaginationRequest {
	return PaginationRequest{
		Page:     1,
		PageSize: 20,
	}
}

// GetOffset 计算数据库查询的偏移量
func (p PaginationRequest) GetOffset() int {
	if p.Page < 1 {
		p.Page = 1
	}
	return (p.Page - 1) * p.GetPageSize()
}

// GetPageSize 获取每页数量，提供默认值
func (p PaginationRequest) GetPageSize() int {
	if p.PageSize < 1 {
		return 20
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// ============================================================================
// 业务状态码定义
// ============================================================================

const (
	// 成功状态码
	CodeSuccess = 0

	// 通用错误码 (1000-1999)
	CodeInvalidRequest     = 1000 // 请求参数错误
	CodeUnauthorized       = 1001 // 未授权
	CodeForbidden          = 1002 // 禁止访问
	CodeNotFound           = 1003 // 资源不存在
	CodeConflict           = 1004 // 资源冲突
	CodeInternalError      = 1005 // 内部错误
	CodeServiceUnavailable = 1006 // 服务不可用

	// Agent 相关错误码 (2000-2099)
	CodeAgentNotFound      = 2000 // Agent 不存在
	CodeInvalidAgentConfig = 2001 // Agent 配置无效

	// 追踪相关错误码 (3000-3099)
	CodeTraceNotFound  = 3000 // 追踪记录不存在
	CodeTraceFinalized = 3001 // 追踪已终结

	// 评估相关错误码 (4000-4099)
	CodeEvalFailed      = 4000 // 评估执行失败
	CodeJudgeCallFailed = 4001 // L3 评审调用失败

	// 审批相关错误码 (5000-5099)
	CodeApprovalNotFound = 5000 // 审批记录不存在
	CodeApprovalResolved = 5001 // 审批已处理

	// 优化相关错误码 (6000-6099)
	CodeProposalNotFound     = 6000 // 提案不存在
	CodeIllegalProposalState = 6001 // 提案状态流转非法
	CodeUnknownProposalType  = 6002 // 未知提案类型
	CodeABTestNotFound       = 6010 // A/B 实验不存在
	CodeInsufficientSamples  = 6011 // 样本数不足
	CodeABTestCompleted      = 6012 // A/B 实验已结束
)

// ErrorMessages 错误码对应的默认消息
var ErrorMessages = map[int]string{
	CodeSuccess:            "操作成功",
	CodeInvalidRequest:     "请求参数错误",
	CodeUnauthorized:       "未授权，请先登录",
	CodeForbidden:          "无权限访问",
	CodeNotFound:           "资源不存在",
	CodeConflict:           "资源冲突",
	CodeInternalError:      "系统内部错误",
	CodeServiceUnavailable: "服务暂不可用",

	CodeAgentNotFound:      "Agent不存在",
	CodeInvalidAgentConfig: "Agent配置无效",

	CodeTraceNotFound:  "追踪记录不存在",
	CodeTraceFinalized: "追踪已终结，禁止写入",

	CodeEvalFailed:      "评估执行失败",
	CodeJudgeCallFailed: "评审模型调用失败",

	CodeApprovalNotFound: "审批记录不存在",
	CodeApprovalResolved: "审批已处理",

	CodeProposalNotFound:     "提案不存在",
	CodeIllegalProposalState: "提案状态流转非法",
	CodeUnknownProposalType:  "未知的提案类型",
	CodeABTestNotFound:       "A/B实验不存在",
	CodeInsufficientSamples:  "样本数不足，无法判定胜者",
	CodeABTestCompleted:      "A/B实验已结束",
}

// GetErrorMessage 获取错误码对应的消息
func GetErrorMessage(code int) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return "未知错误"
}

// ============================================================================
// 通用业务错误类型
// ============================================================================

// BusinessError 业务错误
type BusinessError struct {
	Code    int    // 错误码
	Message string // 错误信息
}

// Error 实现error接口
func (e *BusinessError) Error() string {
	return e.Message
}

// NewBusinessError 创建业务错误
func NewBusinessError(code int, message string) *BusinessError {
	if message == "" {
		message = GetErrorMessage(code)
	}
	return &BusinessError{
		Code:    code,
		Message: message,
	}
}

// NewBusinessErrorWithCode 根据错误码创建业务错误
func NewBusinessErrorWithCode(code int) *BusinessError {
	return NewBusinessError(code, GetErrorMessage(code))
}
