// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhdandz/SmartDoc/internal/errs"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

// respond 以 {code, message, data} 的统一格式返回。
func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

func success(c *gin.Context, message string, data interface{}) {
	respond(c, http.StatusOK, message, data)
}

func badRequest(c *gin.Context, message string) {
	respond(c, http.StatusBadRequest, message, nil)
}

// statusOf 把错误分类映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnsupportedFormat), errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrCorruptFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrJobNotCompleted), errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail 写出错误响应。5xx 只返回通用文案，细节进日志。
func fail(c *gin.Context, op string, err error) {
	status := statusOf(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Errorf("[Handler] %s 失败: %v", op, err)
		if status == http.StatusInternalServerError {
			message = "服务器内部错误"
		}
	}
	respond(c, status, message, nil)
}
