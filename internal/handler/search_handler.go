package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/nhdandz/SmartDoc/internal/middleware"
	"github.com/nhdandz/SmartDoc/internal/service"
)

// SearchHandler 负责文档搜索与搜索建议。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 处理 POST /search。只搜索调用方自己的文档。
func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求体")
		return
	}
	req.OwnerID = middleware.Principal(c)

	result, err := h.searchService.Search(c.Request.Context(), req)
	if err != nil {
		fail(c, "搜索文档", err)
		return
	}
	success(c, "success", result)
}

// Suggestions 处理 GET /search/suggestions?q=。
func (h *SearchHandler) Suggestions(c *gin.Context) {
	suggestions, err := h.searchService.Suggestions(c.Request.Context(), middleware.Principal(c), c.Query("q"))
	if err != nil {
		fail(c, "获取搜索建议", err)
		return
	}
	success(c, "success", suggestions)
}
