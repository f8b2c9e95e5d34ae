package api

import (
	"errors"
	"net/http"

	"github.com/hewenyu/relay-fleet/pkg/registry"
)

// ApiResponse 统一的API响应结构
type ApiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// httpStatusOf 把注册表错误映射为HTTP状态码
func httpStatusOf(err error) int {
	var regErr *registry.RegistryError
	if !errors.As(err, &regErr) {
		return http.StatusInternalServerError
	}

	switch regErr.Code {
	case registry.ErrNotFound:
		return http.StatusNotFound
	case registry.ErrAlreadyExists:
		return http.StatusConflict
	case registry.ErrInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse 按注册表错误构造响应
func errorResponse(err error) (int, ApiResponse) {
	status := httpStatusOf(err)
	return status, ApiResponse{
		Code:    status,
		Message: err.Error(),
	}
}
