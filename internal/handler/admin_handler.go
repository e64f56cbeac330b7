package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nhdandz/SmartDoc/internal/middleware"
	"github.com/nhdandz/SmartDoc/internal/service"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

// Reprocessor 是批量重处理的入口。
type Reprocessor interface {
	ReprocessDocuments(ctx context.Context, ids []string) service.BatchReport
}

// AdminHandler 负责管理员操作。
type AdminHandler struct {
	reprocessor Reprocessor
	// done 在每次批处理结束后收到报告，nil 时不通知
	done chan<- service.BatchReport
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(reprocessor Reprocessor) *AdminHandler {
	return &AdminHandler{reprocessor: reprocessor}
}

type reprocessRequest struct {
	DocumentIDs []string `json:"documentIds" binding:"required,min=1"`
}

// Reprocess 处理 POST /admin/reprocess。批处理在后台运行，立即返回 202，报告写入日志。
func (h *AdminHandler) Reprocess(c *gin.Context) {
	var req reprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "documentIds 不能为空")
		return
	}

	principal := middleware.Principal(c)
	ids := append([]string(nil), req.DocumentIDs...)
	go func() {
		report := h.reprocessor.ReprocessDocuments(context.Background(), ids)
		log.Infow("[AdminHandler] 批量重处理完成",
			"principal", principal,
			"processed", report.Processed,
			"failed", report.Failed,
			"failedDocuments", report.FailedDocuments,
		)
		if h.done != nil {
			h.done <- report
		}
	}()

	respond(c, http.StatusAccepted, "批量重处理已开始", gin.H{"accepted": len(ids)})
}
