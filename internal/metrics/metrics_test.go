package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector()

	c.ObserveTour(nil, 200*time.Millisecond)
	c.ObserveTour(errors.New("boom"), time.Second)
	c.ObserveRuleResult("has_label", false)
	c.ObserveRuleResult("has_label", false)
	c.ObserveRemediation("add_label", true)
	c.AddSwept(3)
	c.AddSwept(0)

	if got := testutil.ToFloat64(c.toursCreated.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed tours = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ruleResults.WithLabelValues("has_label", "fail")); got != 2 {
		t.Errorf("has_label failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.runsSwept); got != 3 {
		t.Errorf("swept runs = %v, want 3", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveRequest("GET", "/", 200, time.Millisecond)
	c.ObserveTour(nil, time.Millisecond)
	c.ObserveRuleResult("x", true)
	c.ObserveRemediation("x", false)
	c.AddSwept(1)
	c.ObserveCacheLookup(true)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.ObserveRequest("POST", "/api/v1/courses/{courseId}/tour", 201, 50*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `courseaudit_http_requests_total{method="POST",route="/api/v1/courses/{courseId}/tour",status="201"} 1`) {
		t.Errorf("request counter missing from exposition:\n%s", rec.Body.String())
	}
}
