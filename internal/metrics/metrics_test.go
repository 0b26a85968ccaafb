package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCounters(t *testing.T) {
	Init()

	cases := []struct {
		name   string
		metric string
		labels map[string]string
		inc    func()
		delta  float64
	}{
		{
			name:   "write attempts",
			metric: "memcload_write_attempts_total",
			labels: map[string]string{"op": "set"},
			inc:    func() { IncWriteAttempts("set") },
			delta:  1,
		},
		{
			name:   "write retries",
			metric: "memcload_write_retries_total",
			labels: map[string]string{"op": "set_multi"},
			inc:    func() { IncWriteRetries("set_multi") },
			delta:  1,
		},
		{
			name:   "files ingested",
			metric: "memcload_files_total",
			labels: map[string]string{"outcome": "ingested"},
			inc:    func() { IncFiles("ingested") },
			delta:  1,
		},
		{
			name:   "records failed ignores non-positive",
			metric: "memcload_records_failed_total",
			labels: map[string]string{"kind": KindParse},
			inc: func() {
				AddRecordsFailed(KindParse, 0)
				AddRecordsFailed(KindParse, -2)
				AddRecordsFailed(KindParse, 3)
			},
			delta: 3,
		},
		{
			name:   "records processed",
			metric: "memcload_records_processed_total",
			inc: func() {
				AddRecordsProcessed(-1)
				AddRecordsProcessed(5)
			},
			delta: 5,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			start := counterValue(t, tc.metric, tc.labels)
			tc.inc()
			got := counterValue(t, tc.metric, tc.labels)
			if got != start+tc.delta {
				t.Fatalf("unexpected counter delta: metric=%s got=%v start=%v", tc.metric, got, start)
			}
		})
	}
}

func TestSetJobQueueDepth(t *testing.T) {
	cases := []struct {
		name  string
		value int
		want  float64
	}{
		{name: "positive", value: 7, want: 7},
		{name: "negative clamps to zero", value: -1, want: 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			SetJobQueueDepth(tc.value)
			if got := gaugeValue(t, "memcload_job_queue_depth"); got != tc.want {
				t.Fatalf("unexpected queue depth: got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestRegisterCollector(t *testing.T) {
	name := fmt.Sprintf("test_metrics_collector_%d", time.Now().UnixNano())
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: "test"})

	cases := []struct {
		name string
		call func()
	}{
		{name: "first registration", call: func() { registerCollector(g) }},
		{name: "already registered", call: func() { registerCollector(g) }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.call()
		})
	}
}

func TestPush(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	if err := Push(context.Background(), srv.URL, "memcload", map[string]string{"file": "a.tsv.gz"}); err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
	if hits.Load() == 0 {
		t.Fatal("expected pushgateway to be called")
	}
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	m := find(t, name, labels)
	if m == nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	m := find(t, name, nil)
	if m == nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}

func find(t *testing.T, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matches(m, labels) {
				return m
			}
		}
	}
	return nil
}

func matches(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
