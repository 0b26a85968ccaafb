package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Error kinds used as the "kind" label of records_failed_total.
const (
	KindParse   = "parse"
	KindRouting = "routing"
	KindWrite   = "write"
)

var (
	recordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memcload_records_processed_total",
		Help: "Total number of records successfully written to the cache.",
	})
	recordsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memcload_records_failed_total",
		Help: "Total number of records that could not be delivered, by failure kind.",
	}, []string{"kind"})
	writeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memcload_write_attempts_total",
		Help: "Total number of cache write calls, by operation.",
	}, []string{"op"})
	writeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memcload_write_retries_total",
		Help: "Total number of cache write calls that failed with a transport error and were retried.",
	}, []string{"op"})
	filesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memcload_files_total",
		Help: "Total number of input files handled, by outcome.",
	}, []string{"outcome"})
	jobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memcload_job_queue_depth",
		Help: "Number of jobs waiting in the worker pool queue.",
	})
	lastErrorRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memcload_last_error_rate",
		Help: "Error rate of the most recently reported file.",
	})

	collectorsOnce sync.Once
)

// Init registers default Go/process collectors. It is safe to call multiple times.
func Init() {
	collectorsOnce.Do(func() {
		registerCollector(collectors.NewGoCollector())
		registerCollector(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

func registerCollector(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		panic(err)
	}
}

// AddRecordsProcessed increments the successful write counter.
func AddRecordsProcessed(n int) {
	if n <= 0 {
		return
	}
	recordsProcessed.Add(float64(n))
}

// AddRecordsFailed increments the failure counter for kind.
func AddRecordsFailed(kind string, n int) {
	if n <= 0 {
		return
	}
	recordsFailed.WithLabelValues(kind).Add(float64(n))
}

func IncWriteAttempts(op string) { writeAttempts.WithLabelValues(op).Inc() }

func IncWriteRetries(op string) { writeRetries.WithLabelValues(op).Inc() }

// IncFiles records a file outcome ("ingested", "failed" or "renamed").
func IncFiles(outcome string) { filesIngested.WithLabelValues(outcome).Inc() }

// SetJobQueueDepth records the current job queue length.
func SetJobQueueDepth(n int) {
	if n < 0 {
		n = 0
	}
	jobQueueDepth.Set(float64(n))
}

func SetLastErrorRate(rate float64) { lastErrorRate.Set(rate) }

// Push sends the default registry to a Prometheus Pushgateway.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
