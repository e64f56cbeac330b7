package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhdandz/SmartDoc/internal/app"
	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/internal/pipeline"
	"github.com/nhdandz/SmartDoc/internal/service"
	"github.com/nhdandz/SmartDoc/pkg/cmdrun"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

// maintenanceFactory 根据配置构造维护服务，返回的 cleanup 用于释放连接。
type maintenanceFactory func(ctx context.Context, cfg config.Config, connect bool) (service.MaintenanceService, func(), error)

func newRootCmd() *cobra.Command {
	return buildRootCmd(newMaintenance, os.Stdout)
}

func buildRootCmd(factory maintenanceFactory, out io.Writer) *cobra.Command {
	var configFile string
	var cfg config.Config

	root := &cobra.Command{
		Use:           "smartdoc-maint",
		Short:         "SmartDoc 维护任务：临时文件清理、重建索引、数据库备份、批量重处理",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				configFile = os.Getenv("SMARTDOC_CONFIG")
			}
			if configFile == "" {
				configFile = "./configs/config.yaml"
			}
			loaded, err := config.Load(configFile)
			if err != nil {
				return err
			}
			cfg = loaded
			log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径 (默认读取 SMARTDOC_CONFIG 或 ./configs/config.yaml)")

	// run 构造服务并执行 fn，connect=false 时不建立数据库连接
	run := func(cmd *cobra.Command, connect bool, fn func(ctx context.Context, svc service.MaintenanceService) (interface{}, error)) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, cleanup, err := factory(ctx, cfg, connect)
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := fn(ctx, svc)
		if report != nil {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
		}
		return err
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "cleanup",
			Short: "删除临时目录中超过保留期的文件（建议每小时）",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, false, func(ctx context.Context, svc service.MaintenanceService) (interface{}, error) {
					return svc.CleanupTempFiles(ctx), nil
				})
			},
		},
		&cobra.Command{
			Use:   "reindex",
			Short: "为所有已处理文档重建向量索引（建议每 6 小时）",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, true, func(ctx context.Context, svc service.MaintenanceService) (interface{}, error) {
					return svc.ReindexAll(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "backup",
			Short: "使用 mysqldump 备份数据库并清理过期备份（建议每天 02:00）",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, false, func(ctx context.Context, svc service.MaintenanceService) (interface{}, error) {
					return svc.Backup(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "reprocess <document-id>...",
			Short: "重新抽取并索引指定文档",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, true, func(ctx context.Context, svc service.MaintenanceService) (interface{}, error) {
					report := svc.ReprocessDocuments(ctx, args)
					if report.Failed > 0 {
						return report, fmt.Errorf("%d of %d documents failed", report.Failed, len(args))
					}
					return report, nil
				})
			},
		},
	)
	return root
}

func settingsFor(cfg config.Config, tempDirs []string) service.MaintenanceSettings {
	return service.MaintenanceSettings{
		TempDirs:         tempDirs,
		TempMaxAge:       cfg.Maintenance.TempMaxAge,
		BackupDir:        cfg.Maintenance.BackupDir,
		BackupRetention:  cfg.Maintenance.BackupRetention,
		MysqldumpPath:    cfg.Maintenance.MysqldumpPath,
		MySQLDSN:         cfg.Database.MySQL.DSN,
		IndexConcurrency: cfg.Pipeline.IndexConcurrency,
		BatchItemTimeout: cfg.Pipeline.BatchItemTimeout,
	}
}

// newMaintenance 在需要时装配完整的 App；cleanup 和 backup 只依赖文件系统与 mysqldump。
func newMaintenance(ctx context.Context, cfg config.Config, connect bool) (service.MaintenanceService, func(), error) {
	if !connect {
		dirs := (&app.App{Config: cfg}).MaintenanceDirs()
		svc := service.NewMaintenanceService(pipeline.Capabilities{}, nil, nil, nil, nil, cmdrun.Exec{}, settingsFor(cfg, dirs))
		return svc, func() {}, nil
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	a.Pool.Start()
	svc := service.NewMaintenanceService(a.Caps, a.Documents, a.Indexer, a.Processor, a.Pool, cmdrun.Exec{}, settingsFor(cfg, a.MaintenanceDirs()))
	return svc, func() {
		if err := a.Pool.Stop(context.Background()); err != nil {
			log.Warnf("[Maint] worker pool 停止失败: %v", err)
		}
		a.Close()
	}, nil
}
