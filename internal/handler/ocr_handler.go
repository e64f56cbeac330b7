package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nhdandz/SmartDoc/internal/middleware"
	"github.com/nhdandz/SmartDoc/internal/service"
)

// OCRHandler 负责 OCR 任务的提交、轮询与人工修正。
type OCRHandler struct {
	ocrService     service.OCRService
	maxUploadBytes int64
}

// NewOCRHandler 创建一个新的 OCRHandler 实例。
func NewOCRHandler(ocrService service.OCRService, maxUploadBytes int64) *OCRHandler {
	return &OCRHandler{ocrService: ocrService, maxUploadBytes: maxUploadBytes}
}

// Submit 处理 POST /ocr/jobs，返回处于 processing 状态的任务。
func (h *OCRHandler) Submit(c *gin.Context) {
	fh, ok := formFile(c, h.maxUploadBytes)
	if !ok {
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "无法读取上传文件")
		return
	}
	defer f.Close()

	job, err := h.ocrService.Submit(c.Request.Context(), service.OCRSubmitRequest{
		OwnerID:  middleware.Principal(c),
		FileName: fh.Filename,
		Size:     fh.Size,
		Reader:   f,
	})
	if err != nil {
		fail(c, "提交 OCR 任务", err)
		return
	}
	success(c, "OCR 任务已提交", job)
}

// List 处理 GET /ocr/jobs?limit=N。
func (h *OCRHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	jobs, err := h.ocrService.ListJobs(c.Request.Context(), middleware.Principal(c), limit)
	if err != nil {
		fail(c, "查询 OCR 任务列表", err)
		return
	}
	success(c, "获取 OCR 任务列表成功", jobs)
}

// Get 处理 GET /ocr/jobs/:id。
func (h *OCRHandler) Get(c *gin.Context) {
	job, err := h.ocrService.GetJob(c.Request.Context(), c.Param("id"), middleware.Principal(c))
	if err != nil {
		fail(c, "查询 OCR 任务", err)
		return
	}
	success(c, "获取 OCR 任务成功", job)
}

type correctTextRequest struct {
	Text string `json:"text" binding:"required"`
}

// CorrectText 处理 PUT /ocr/jobs/:id/text。
func (h *OCRHandler) CorrectText(c *gin.Context) {
	var req correctTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体需要包含 text 字段")
		return
	}
	job, err := h.ocrService.CorrectText(c.Request.Context(), c.Param("id"), middleware.Principal(c), req.Text)
	if err != nil {
		fail(c, "修正 OCR 文本", err)
		return
	}
	success(c, "文本已更新", job)
}
