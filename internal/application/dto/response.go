// Package dto defines the JSON bodies of the diagnostics HTTP surface.
package dto

import (
	"time"

	"github.com/gin-gonic/gin"

	secerrors "github.com/turtacn/secstate/pkg/errors"
)

// APIResponse 通用 API 响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorDTO   `json:"error,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorDTO 错误信息 DTO
type ErrorDTO struct {
	Code        string                 `json:"code"`
	Description string                 `json:"description,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse 创建成功响应
func SuccessResponse(data interface{}, traceID string) *APIResponse {
	return &APIResponse{
		Success:   true,
		Data:      data,
		TraceID:   traceID,
		Timestamp: time.Now().Unix(),
	}
}

// ErrorResponse 创建错误响应
func ErrorResponse(err error, traceID string) (int, *APIResponse) {
	status, body := secerrors.ToErrorResponse(err)
	errorDTO := &ErrorDTO{Code: body.Error, Description: body.ErrorDescription}
	if se, ok := secerrors.AsSecError(err); ok && len(se.Metadata()) > 0 {
		errorDTO.Details = se.Metadata()
	}
	return status, &APIResponse{
		Success:   false,
		Error:     errorDTO,
		TraceID:   traceID,
		Timestamp: time.Now().Unix(),
	}
}

// SendSuccess writes data with the given status.
func SendSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse(data, c.GetString("trace_id")))
}

// SendError aborts the request with the status derived from err.
func SendError(c *gin.Context, err error) {
	status, body := ErrorResponse(err, c.GetString("trace_id"))
	c.AbortWithStatusJSON(status, body)
}
