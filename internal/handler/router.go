package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhdandz/SmartDoc/internal/middleware"
	"github.com/nhdandz/SmartDoc/pkg/token"
)

// Handlers 汇总所有路由需要的控制器。
type Handlers struct {
	OCR      *OCRHandler
	Document *DocumentHandler
	QA       *QAHandler
	Search   *SearchHandler
	Admin    *AdminHandler
}

// NewRouter 创建 gin 引擎并注册 /api/v1 下的全部路由。
func NewRouter(h Handlers, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		documents := apiV1.Group("/documents")
		{
			documents.POST("", h.Document.Upload)
			documents.GET("/:id/content", h.Document.GetContent)
		}

		ocr := apiV1.Group("/ocr/jobs")
		{
			ocr.POST("", h.OCR.Submit)
			ocr.GET("", h.OCR.List)
			ocr.GET("/:id", h.OCR.Get)
			ocr.PUT("/:id/text", h.OCR.CorrectText)
		}

		search := apiV1.Group("/search")
		{
			search.POST("", h.Search.Search)
			search.GET("/suggestions", h.Search.Suggestions)
		}

		qa := apiV1.Group("/qa")
		{
			qa.POST("/ask", h.QA.Ask)
			qa.GET("/ws", h.QA.Stream)
			qa.GET("/sessions", h.QA.ListSessions)
			qa.POST("/sessions", h.QA.CreateSession)
			qa.GET("/sessions/:id", h.QA.GetSession)
			qa.PUT("/sessions/:id/turns/:turnId/rating", h.QA.RateTurn)
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin", middleware.AdminAuthMiddleware())
		{
			admin.POST("/reprocess", h.Admin.Reprocess)
		}
	}
	return r
}
