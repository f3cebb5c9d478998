package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCacheLookupCountsErrorsSeparately(t *testing.T) {
	m := New()
	m.CacheLookup("local", "hit")
	m.CacheLookup("global", "error")
	m.CacheLookup("global", "miss")

	if got := testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("local", "hit")); got != 1 {
		t.Errorf("local hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheLookupErrors.WithLabelValues("global")); got != 1 {
		t.Errorf("global errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheLookupErrors.WithLabelValues("local")); got != 0 {
		t.Errorf("local errors = %v, want 0", got)
	}
}

func TestProviderCall(t *testing.T) {
	m := New()
	m.ProviderCall("elevenlabs", 4000, 2*time.Second, nil)
	m.ProviderCall("elevenlabs", 500, time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(m.providerChars.WithLabelValues("elevenlabs")); got != 4500 {
		t.Errorf("characters = %v, want 4500", got)
	}
	if got := testutil.ToFloat64(m.providerCalls.WithLabelValues("elevenlabs", "error")); got != 1 {
		t.Errorf("error calls = %v, want 1", got)
	}
}

func TestJobStartedTracksActiveJobs(t *testing.T) {
	m := New()
	done := m.JobStarted()
	if got := testutil.ToFloat64(m.jobsActive); got != 1 {
		t.Errorf("jobs_active = %v, want 1", got)
	}
	done(true)
	if got := testutil.ToFloat64(m.jobsActive); got != 0 {
		t.Errorf("jobs_active = %v, want 0", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Request("synthesized")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `narration_requests_total{outcome="synthesized"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Request("x")
	m.CacheLookup("local", "hit")
	m.ProviderCall("p", 1, time.Second, nil)
	m.ProviderCost("p", 1)
	m.AvoidedCost("local", 1)
	m.AssetPublished(1)
	m.Claim("acquired")
	m.EventsPruned(3)
	m.JobStarted()(false)
	if m.Registry() != nil {
		t.Error("Registry() on nil should be nil")
	}
}
