package service

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"

	"github.com/nhdandz/SmartDoc/internal/pipeline"
	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/cmdrun"
	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/worker"
)

const backupPrefix = "smartdoc_backup_"

// DocumentProcessor 是批量重处理的单元操作。
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID string) (pipeline.IndexReport, error)
}

// TaskSubmitter 把任务交给 worker pool 并返回可等待的句柄。
type TaskSubmitter interface {
	Submit(ctx context.Context, name string, fn worker.Task) (*worker.Handle, error)
}

// MaintenanceSettings 汇总维护任务需要的配置。
type MaintenanceSettings struct {
	TempDirs         []string
	TempMaxAge       time.Duration
	BackupDir        string
	BackupRetention  time.Duration
	MysqldumpPath    string
	MySQLDSN         string
	IndexConcurrency int
	BatchItemTimeout time.Duration
}

// CleanupReport 是临时文件清理的结果。
type CleanupReport struct {
	Scanned int `json:"scanned"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// ReindexReport 是全量重建索引的结果。
type ReindexReport struct {
	Total   int  `json:"total"`
	Indexed int  `json:"indexed"`
	Failed  int  `json:"failed"`
	Skipped bool `json:"skipped"`
}

// BackupReport 是数据库备份的结果。
type BackupReport struct {
	Path    string `json:"path"`
	Pruned  int    `json:"pruned"`
	Skipped bool   `json:"skipped"`
}

// BatchReport 是批量重处理的结果。
type BatchReport struct {
	Processed       int      `json:"processed"`
	Failed          int      `json:"failed"`
	FailedDocuments []string `json:"failed_documents"`
}

// MaintenanceService 接口定义了由外部调度器触发的维护操作。
type MaintenanceService interface {
	CleanupTempFiles(ctx context.Context) CleanupReport
	ReindexAll(ctx context.Context) (ReindexReport, error)
	Backup(ctx context.Context) (BackupReport, error)
	ReprocessDocuments(ctx context.Context, ids []string) BatchReport
}

type maintenanceService struct {
	caps      pipeline.Capabilities
	docs      repository.DocumentRepository
	indexer   *pipeline.Indexer
	processor DocumentProcessor
	pool      TaskSubmitter
	runner    cmdrun.Runner
	settings  MaintenanceSettings
	now       func() time.Time
}

// NewMaintenanceService 创建一个新的 MaintenanceService 实例。
func NewMaintenanceService(
	caps pipeline.Capabilities,
	docs repository.DocumentRepository,
	indexer *pipeline.Indexer,
	processor DocumentProcessor,
	pool TaskSubmitter,
	runner cmdrun.Runner,
	settings MaintenanceSettings,
) MaintenanceService {
	if settings.TempMaxAge <= 0 {
		settings.TempMaxAge = 24 * time.Hour
	}
	if settings.BackupRetention <= 0 {
		settings.BackupRetention = 7 * 24 * time.Hour
	}
	if settings.IndexConcurrency <= 0 {
		settings.IndexConcurrency = 4
	}
	if settings.BatchItemTimeout <= 0 {
		settings.BatchItemTimeout = 5 * time.Minute
	}
	if settings.MysqldumpPath == "" {
		settings.MysqldumpPath = "mysqldump"
	}
	return &maintenanceService{
		caps:      caps,
		docs:      docs,
		indexer:   indexer,
		processor: processor,
		pool:      pool,
		runner:    runner,
		settings:  settings,
		now:       time.Now,
	}
}

// CleanupTempFiles 删除临时目录中超过 TempMaxAge 的普通文件。
func (s *maintenanceService) CleanupTempFiles(ctx context.Context) CleanupReport {
	var report CleanupReport
	cutoff := s.now().Add(-s.settings.TempMaxAge)
	for _, dir := range s.settings.TempDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warnf("[Maintenance] 访问 %s 失败: %v", path, err)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !d.Type().IsRegular() {
				return nil
			}
			report.Scanned++
			info, err := d.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil {
				log.Warnf("[Maintenance] 删除临时文件 %s 失败: %v", path, err)
				report.Failed++
				return nil
			}
			report.Removed++
			return nil
		})
		if err != nil {
			log.Warnf("[Maintenance] 清理目录 %s 中断: %v", dir, err)
		}
	}
	log.Infof("[Maintenance] 临时文件清理完成: scanned=%d, removed=%d, failed=%d", report.Scanned, report.Removed, report.Failed)
	return report
}

// ReindexAll 以有限并发重建所有已处理文档的索引。单个文档失败只计数。
func (s *maintenanceService) ReindexAll(ctx context.Context) (ReindexReport, error) {
	if !s.caps.CanIndex() {
		log.Infof("[Maintenance] 向量索引或 embedding 未配置，重建索引 skipped")
		return ReindexReport{Skipped: true}, nil
	}
	ids, err := s.docs.ListProcessedIDs(ctx)
	if err != nil {
		return ReindexReport{}, err
	}

	var indexed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.settings.IndexConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.indexer.ReindexTask(s.docs, id)(ctx); err != nil {
				log.Warnf("[Maintenance] 文档 %s 重建索引失败: %v", id, err)
				failed.Add(1)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report := ReindexReport{Total: len(ids), Indexed: int(indexed.Load()), Failed: int(failed.Load())}
	log.Infof("[Maintenance] 重建索引完成: total=%d, indexed=%d, failed=%d", report.Total, report.Indexed, report.Failed)
	return report, nil
}

// Backup 调用 mysqldump 导出数据库，并清理过期备份。非 MySQL DSN 时跳过。
func (s *maintenanceService) Backup(ctx context.Context) (BackupReport, error) {
	args, ok := mysqldumpArgs(s.settings.MySQLDSN)
	if !ok {
		log.Infof("[Maintenance] 数据库不是 MySQL，备份 skipped")
		return BackupReport{Skipped: true}, nil
	}
	if err := os.MkdirAll(s.settings.BackupDir, 0o755); err != nil {
		return BackupReport{}, err
	}

	path := filepath.Join(s.settings.BackupDir, backupPrefix+s.now().Format("20060102_150405")+".sql")
	args = append([]string{"--result-file=" + path}, args...)
	if _, err := s.runner.Run(ctx, s.settings.MysqldumpPath, args...); err != nil {
		os.Remove(path)
		return BackupReport{}, fmt.Errorf("mysqldump: %w", err)
	}

	report := BackupReport{Path: path, Pruned: s.pruneBackups()}
	log.Infof("[Maintenance] 数据库备份完成: %s, 清理旧备份 %d 个", path, report.Pruned)
	return report, nil
}

func (s *maintenanceService) pruneBackups() int {
	entries, err := os.ReadDir(s.settings.BackupDir)
	if err != nil {
		log.Warnf("[Maintenance] 读取备份目录失败: %v", err)
		return 0
	}
	cutoff := s.now().Add(-s.settings.BackupRetention)
	pruned := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.settings.BackupDir, e.Name())); err != nil {
			log.Warnf("[Maintenance] 删除旧备份 %s 失败: %v", e.Name(), err)
			continue
		}
		pruned++
	}
	return pruned
}

// mysqldumpArgs 把 go-sql-driver 格式的 DSN 转换为 mysqldump 参数。
func mysqldumpArgs(dsn string) ([]string, bool) {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil || cfg.DBName == "" {
		return nil, false
	}
	args := []string{"--single-transaction", "--user=" + cfg.User}
	if cfg.Passwd != "" {
		args = append(args, "--password="+cfg.Passwd)
	}
	if cfg.Net == "unix" {
		args = append(args, "--socket="+cfg.Addr)
	} else if host, port, err := net.SplitHostPort(cfg.Addr); err == nil {
		args = append(args, "--host="+host, "--port="+port)
	}
	return append(args, cfg.DBName), true
}

// ReprocessDocuments 逐个投递文档到 worker pool，每个文档最多等待 BatchItemTimeout。
// 超时只记为该文档失败，后台处理不会被取消。
func (s *maintenanceService) ReprocessDocuments(ctx context.Context, ids []string) BatchReport {
	report := BatchReport{FailedDocuments: []string{}}
	for _, id := range ids {
		if err := s.reprocessOne(ctx, id); err != nil {
			log.Warnf("[Maintenance] 文档 %s 重处理失败: %v", id, err)
			report.Failed++
			report.FailedDocuments = append(report.FailedDocuments, id)
			continue
		}
		report.Processed++
	}
	log.Infof("[Maintenance] 批量重处理完成: processed=%d, failed=%d", report.Processed, report.Failed)
	return report
}

func (s *maintenanceService) reprocessOne(ctx context.Context, id string) error {
	h, err := s.pool.Submit(ctx, "reprocess:"+id, func(ctx context.Context) error {
		_, err := s.processor.ProcessDocument(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.settings.BatchItemTimeout)
	defer cancel()
	return h.Wait(waitCtx)
}
