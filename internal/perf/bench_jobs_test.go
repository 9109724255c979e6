package perf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/docdesk/docdesk/internal/jobs"
	"github.com/docdesk/docdesk/jobs"
)

type flakyPruner struct {
	calls   int
	failing map[int]bool
	delay   time.Duration
}

func (p *flakyPruner) PruneSessions(ctx context.Context, now time.Time) (int64, error) {
	p.calls++
	time.Sleep(p.delay)
	if p.failing[p.calls] {
		return 0, errors.New("connection reset")
	}
	return 1, nil
}

func TestSessionPruneThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	pruner := &flakyPruner{failing: map[int]bool{10: true, 20: true, 30: true}, delay: 2 * time.Millisecond}
	job := jobs.NewSessionPruneJob(pruner, nil, metrics)

	failures := 0
	for i := 0; i < 40; i++ {
		if err := job.Handle(context.Background(), nil); err != nil {
			failures++
		}
	}
	if failures != 3 {
		t.Fatalf("expected 3 failures to propagate, got %d", failures)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "docdesk_jobs_total", map[string]string{"job": jobs.TaskSessionPrune, "status": "success"})
	failure := metricValue(t, families, "docdesk_jobs_total", map[string]string{"job": jobs.TaskSessionPrune, "status": "failure"})
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("prune success ratio too low: %f", ratio)
	}
	if got := metricValue(t, families, "docdesk_jobs_failures_total", map[string]string{"job": jobs.TaskSessionPrune}); got != 3 {
		t.Fatalf("failures counter = %f, want 3", got)
	}

	if mean := histogramMean(t, families, "docdesk_job_duration_seconds", map[string]string{"job": jobs.TaskSessionPrune}); mean > 0.5 {
		t.Fatalf("prune duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; !ok || lp.GetValue() != val {
			return false
		}
	}
	return true
}
