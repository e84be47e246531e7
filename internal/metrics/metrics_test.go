package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollector_Exposition(t *testing.T) {
	c := New("1.2.3", "abc")
	c.ObserveHTTP("GET", "/videos/{id}", 200, 15*time.Millisecond)
	c.ObserveStage("acquire", nil, 2*time.Second)
	c.ObserveStage("extract", errors.New("boom"), time.Second)
	c.ClipFinished("section", nil)
	c.BestEffortFailed("thumbnail")
	c.UploadProcessed(false)
	done := c.ClipStarted()

	body := scrape(t, c)
	for _, want := range []string{
		`cliplink_http_requests_total{method="GET",route="/videos/{id}",status="200"} 1`,
		`cliplink_pipeline_stage_duration_seconds_count{outcome="failure",stage="extract"} 1`,
		`cliplink_clips_total{outcome="success",strategy="section"} 1`,
		`cliplink_clips_in_flight 1`,
		`cliplink_best_effort_failures_total{step="thumbnail"} 1`,
		`cliplink_uploads_total{transcoded="false"} 1`,
		`cliplink_service_info{commit="abc",version="1.2.3"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}

	done()
	if !strings.Contains(scrape(t, c), "cliplink_clips_in_flight 0") {
		t.Error("in-flight gauge not decremented")
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.ObserveHTTP("GET", "", 200, time.Millisecond)
	c.ObserveStage("acquire", nil, time.Millisecond)
	c.ClipFinished("", nil)
	c.BestEffortFailed("probe")
	c.UploadProcessed(true)
	c.ClipStarted()()
	if c.Registry() != nil {
		t.Error("nil collector should have no registry")
	}
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestCollectors_AreIndependent(t *testing.T) {
	// Two collectors must not collide on a shared global registry.
	a := New("1", "a")
	b := New("1", "b")
	a.ClipFinished("full", nil)
	if strings.Contains(scrape(t, b), `strategy="full"`) {
		t.Error("metrics leaked between collectors")
	}
}
