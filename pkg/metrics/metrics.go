// Package metrics 定义流水线导出的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetrievalTotal 按检索模式（explicit / vector / keyword）计数。
	RetrievalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartdoc",
		Name:      "retrievals_total",
		Help:      "Number of retrievals by degradation mode.",
	}, []string{"mode"})

	// RecognitionJobsTotal 按终态计数识别任务。
	RecognitionJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartdoc",
		Name:      "recognition_jobs_total",
		Help:      "Number of recognition jobs by status.",
	}, []string{"status"})

	// RecognitionDuration 识别任务耗时（秒）。
	RecognitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smartdoc",
		Name:      "recognition_duration_seconds",
		Help:      "Time spent recognising a file.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"engine"})

	// IndexedFragmentsTotal 写入向量索引的分块数。
	IndexedFragmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smartdoc",
		Name:      "indexed_fragments_total",
		Help:      "Number of fragments written to the vector index.",
	})

	// AnswersTotal 按是否由模型合成计数回答。
	AnswersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartdoc",
		Name:      "answers_total",
		Help:      "Number of answers by synthesis outcome.",
	}, []string{"outcome"})
)
