package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/nhdandz/SmartDoc/internal/middleware"
	"github.com/nhdandz/SmartDoc/internal/service"
)

// DocumentHandler 负责普通文档的上传与文本读取。
type DocumentHandler struct {
	docService     service.DocumentService
	maxUploadBytes int64
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{docService: docService, maxUploadBytes: maxUploadBytes}
}

// Upload 处理 POST /documents。文本抽取同步完成，索引在后台进行。
func (h *DocumentHandler) Upload(c *gin.Context) {
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

	doc, err := h.docService.Ingest(c.Request.Context(), service.DocumentUploadRequest{
		OwnerID:  middleware.Principal(c),
		FileName: fh.Filename,
		Size:     fh.Size,
		Reader:   f,
	})
	if err != nil {
		fail(c, "上传文档", err)
		return
	}
	success(c, "文档上传成功", doc)
}

// documentContent 是 GET /documents/:id/content 的返回结构。
type documentContent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	IsProcessed bool   `json:"isProcessed"`
	Content     string `json:"content"`
}

// GetContent 处理 GET /documents/:id/content。
func (h *DocumentHandler) GetContent(c *gin.Context) {
	doc, err := h.docService.GetContent(c.Request.Context(), c.Param("id"), middleware.Principal(c))
	if err != nil {
		fail(c, "读取文档内容", err)
		return
	}
	success(c, "获取文档内容成功", documentContent{
		ID:          doc.ID,
		Name:        doc.Name,
		Type:        doc.Type,
		IsProcessed: doc.IsProcessed,
		Content:     doc.ExtractedText,
	})
}
