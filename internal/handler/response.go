// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"product-atlas/internal/pipeline"
	"product-atlas/internal/repository"
	"product-atlas/internal/service"
	"product-atlas/pkg/log"
)

func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// statusFor 把业务错误映射到 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidRole),
		errors.Is(err, pipeline.ErrInvalidChunkConfig),
		errors.Is(err, service.ErrOutsideDataDir):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, service.ErrAsyncDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// failErr 写出错误响应；只有 5xx 会记录 error 日志。
func failErr(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Errorf("[%s] %v", op, err)
		fail(c, status, "internal error")
		return
	}
	fail(c, status, err.Error())
}
