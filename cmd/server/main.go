// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nhdandz/SmartDoc/internal/app"
	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/internal/handler"
	"github.com/nhdandz/SmartDoc/internal/pipeline"
	"github.com/nhdandz/SmartDoc/internal/service"
	"github.com/nhdandz/SmartDoc/pkg/cmdrun"
	"github.com/nhdandz/SmartDoc/pkg/kafka"
	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/ocr"
	"github.com/nhdandz/SmartDoc/pkg/ocr/fitzraster"
	"github.com/nhdandz/SmartDoc/pkg/tasks"
	"github.com/nhdandz/SmartDoc/pkg/token"
	"github.com/nhdandz/SmartDoc/pkg/worker"
)

func configPath() string {
	if p := os.Getenv("SMARTDOC_CONFIG"); p != "" {
		return p
	}
	return "./configs/config.yaml"
}

func main() {
	// 1. 初始化配置
	config.Init(configPath())
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 初始化数据库、Redis、MinIO 与可选后端
	a, err := app.New(rootCtx, cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()

	// 4. OCR 引擎启动时探测，不可用则直接退出
	recognizer, err := ocr.New(rootCtx, cfg.OCR, cmdrun.Exec{}, nil, ocr.WithRasterizer(fitzraster.Rasterizer{}))
	if err != nil {
		log.Fatalf("OCR 引擎不可用: %v", err)
	}

	// 5. 后台 worker pool 与识别任务分发
	a.Pool.Start()
	recognition := pipeline.NewRecognitionProcessor(a.Jobs, a.Documents, a.Store, recognizer, a.Indexer, a.Pool, cfg.OCR.TempDir)

	var dispatcher tasks.Dispatcher
	consumerDone := make(chan struct{})
	if strings.TrimSpace(cfg.Kafka.Brokers) != "" {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		dispatcher = producer
		go func() {
			defer close(consumerDone)
			if err := kafka.StartConsumer(rootCtx, cfg.Kafka, a.Redis, recognition); err != nil {
				log.Errorf("Kafka 消费者异常退出: %v", err)
			}
		}()
	} else {
		log.Info("未配置 Kafka，识别任务使用进程内 worker pool")
		dispatcher = worker.NewDispatcher(a.Pool, recognition)
		close(consumerDone)
	}

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	ocrService := service.NewOCRService(a.Jobs, a.Documents, a.Store, dispatcher, recognizer, cfg.OCR.Language, a.Indexer, a.Pool)
	documentService := service.NewDocumentService(a.Documents, a.Store, a.Extractor, a.Indexer, a.Pool, cfg.OCR.TempDir)
	qaService := service.NewQAService(a.Conversations, a.Retriever, a.Synthesizer)
	searchService := service.NewSearchService(a.Searches)
	maintenanceService := service.NewMaintenanceService(a.Caps, a.Documents, a.Indexer, a.Processor, a.Pool, cmdrun.Exec{}, service.MaintenanceSettings{
		TempDirs:         a.MaintenanceDirs(),
		TempMaxAge:       cfg.Maintenance.TempMaxAge,
		BackupDir:        cfg.Maintenance.BackupDir,
		BackupRetention:  cfg.Maintenance.BackupRetention,
		MysqldumpPath:    cfg.Maintenance.MysqldumpPath,
		MySQLDSN:         cfg.Database.MySQL.DSN,
		IndexConcurrency: cfg.Pipeline.IndexConcurrency,
		BatchItemTimeout: cfg.Pipeline.BatchItemTimeout,
	})

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.Handlers{
		OCR:      handler.NewOCRHandler(ocrService, cfg.Pipeline.MaxUploadBytes),
		Document: handler.NewDocumentHandler(documentService, cfg.Pipeline.MaxUploadBytes),
		QA:       handler.NewQAHandler(qaService),
		Search:   handler.NewSearchHandler(searchService),
		Admin:    handler.NewAdminHandler(maintenanceService),
	}, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止 Kafka 消费者，再排空 worker pool
	stop()
	<-consumerDone
	if err := a.Pool.Stop(ctx); err != nil {
		log.Warnf("worker pool 未能在超时内排空: %v", err)
	}
	log.Info("服务已优雅关闭")
}
