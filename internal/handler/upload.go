package handler

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
)

// formFile 读取 multipart 中的 file 字段，超过 maxBytes 时返回 413。
func formFile(c *gin.Context, maxBytes int64) (*multipart.FileHeader, bool) {
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond(c, http.StatusRequestEntityTooLarge, "文件超过上传大小限制", nil)
			return nil, false
		}
		badRequest(c, "缺少上传文件 file")
		return nil, false
	}
	return fh, true
}
