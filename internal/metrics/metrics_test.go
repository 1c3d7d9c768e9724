package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			if len(mf.GetMetric()) != 1 {
				t.Fatalf("expected 1 metric for %s, got %d", name, len(mf.GetMetric()))
			}
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordFeedPollSuccess_IncrementsCounter はポーリング成功カウンタが増加することを検証する。
func TestRecordFeedPollSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFeedPollSuccess("feed-1")
	c.RecordFeedPollSuccess("feed-1")

	if val := counterValue(t, reg, "globalnews_feed_poll_success_total"); val != 2 {
		t.Errorf("feed_poll_success_total = %v, want 2", val)
	}
}

// TestRecordFeedPollFailure_IncrementsCounter はポーリング失敗カウンタが増加することを検証する。
func TestRecordFeedPollFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFeedPollFailure("feed-2", "timeout")

	if val := counterValue(t, reg, "globalnews_feed_poll_failure_total"); val != 1 {
		t.Errorf("feed_poll_failure_total = %v, want 1", val)
	}
}

// TestRecordPipelineCounts はサイクル統計のカウンタが加算されることを検証する。
func TestRecordPipelineCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordArticlesIngested(5)
	c.RecordDuplicatesSkipped(3)
	c.RecordFlaggedForReview(2)
	c.RecordEnrichmentFailures(1)
	c.RecordCycleDuration(250 * time.Millisecond)

	if val := counterValue(t, reg, "globalnews_articles_ingested_total"); val != 5 {
		t.Errorf("articles_ingested_total = %v, want 5", val)
	}
	if val := counterValue(t, reg, "globalnews_duplicates_skipped_total"); val != 3 {
		t.Errorf("duplicates_skipped_total = %v, want 3", val)
	}
	if val := counterValue(t, reg, "globalnews_flagged_for_review_total"); val != 2 {
		t.Errorf("flagged_for_review_total = %v, want 2", val)
	}
	if val := counterValue(t, reg, "globalnews_enrichment_failures_total"); val != 1 {
		t.Errorf("enrichment_failures_total = %v, want 1", val)
	}
}

// TestRecordJobProcessed_LabelsByStatus は終端状態別のジョブカウンタを検証する。
func TestRecordJobProcessed_LabelsByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordJobProcessed("succeeded")
	c.RecordJobProcessed("succeeded")
	c.RecordJobProcessed("failed")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() != "globalnews_translation_jobs_total" {
			continue
		}
		found = true
		for _, m := range mf.GetMetric() {
			status := m.GetLabel()[0].GetValue()
			val := m.GetCounter().GetValue()
			switch status {
			case "succeeded":
				if val != 2 {
					t.Errorf("succeeded = %v, want 2", val)
				}
			case "failed":
				if val != 1 {
					t.Errorf("failed = %v, want 1", val)
				}
			}
		}
	}
	if !found {
		t.Error("globalnews_translation_jobs_total metric not found")
	}
}

// TestSetupMetricsRoute_ServesMetrics は/metricsエンドポイントがPrometheus形式で
// メトリクスを公開することを検証する。
func TestSetupMetricsRoute_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordArticlesIngested(7)

	server := httptest.NewServer(SetupMetricsRoute(reg))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("failed to GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "globalnews_articles_ingested_total 7") {
		t.Error("response should contain globalnews_articles_ingested_total 7")
	}
}
