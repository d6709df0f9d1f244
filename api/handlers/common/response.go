package common

import (
	"errors"
	"net/http"
	"strconv"

	"backend/internal/common"

	"github.com/gin-gonic/gin"
)

// RespondError 统一错误出口，业务错误按错误码映射 HTTP 状态
func RespondError(c *gin.Context, err error) {
	var bizErr *common.BusinessError
	if !errors.As(err, &bizErr) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	status := http.StatusBadRequest
	switch bizErr.Code {
	case common.CodeNotFound,
		common.CodeAgentNotFound,
		common.CodeTraceNotFound,
		common.CodeApprovalNotFound,
		common.CodeProposalNotFound,
		common.CodeABTestNotFound:
		status = http.StatusNotFound
	case common.CodeConflict,
		common.CodeApprovalResolved,
		common.CodeIllegalProposalState,
		common.CodeInsufficientSamples,
		common.CodeABTestCompleted,
		common.CodeTraceFinalized:
		status = http.StatusConflict
	case common.CodeInternalError, common.CodeEvalFailed, common.CodeJudgeCallFailed:
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{Success: false, Code: strconv.Itoa(bizErr.Code), Message: bizErr.Message})
}

// RespondList 分页列表响应
func RespondList(c *gin.Context, items any, page, pageSize int, total int64) {
	totalPage := 0
	if pageSize > 0 {
		totalPage = int(total) / pageSize
		if int(total)%pageSize > 0 {
			totalPage++
		}
	}
	c.JSON(http.StatusOK, ListResponse{
		Items: items,
		Pagination: PaginationMeta{
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			TotalPage: totalPage,
		},
	})
}

// ParsePagination 从 query 解析分页参数
func ParsePagination(c *gin.Context) common.PaginationRequest {
	p := common.DefaultPagination()
	if err := c.ShouldBindQuery(&p); err != nil {
		return common.DefaultPagination()
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	return p
}
