package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	reg := New()

	c := reg.Counter("kai_test_total", "test counter")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Errorf("counter = %d", c.Value())
	}

	g := reg.Gauge("kai_test_active", "test gauge")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 9 {
		t.Errorf("gauge = %d", g.Value())
	}

	// Same name returns the same metric.
	if reg.Counter("kai_test_total", "") != c {
		t.Error("counter not deduplicated by name")
	}
}

func TestRenderFormat(t *testing.T) {
	reg := New()
	reg.Counter("kai_requests_total", "Requests served").Add(7)
	reg.Gauge("kai_in_flight", "").Set(2)

	out := reg.Render()
	for _, want := range []string{
		"# HELP kai_requests_total Requests served",
		"# TYPE kai_requests_total counter",
		"kai_requests_total 7",
		"# TYPE kai_in_flight gauge",
		"kai_in_flight 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestWithLabels(t *testing.T) {
	if got := WithLabels("foo", "k", "v"); got != `foo{k="v"}` {
		t.Errorf("WithLabels = %q", got)
	}
	if got := WithLabels("foo", "a", "1", "b", "2"); got != `foo{a="1",b="2"}` {
		t.Errorf("WithLabels = %q", got)
	}
	// Odd pairs are ignored rather than producing a malformed name.
	if got := WithLabels("foo", "dangling"); got != "foo" {
		t.Errorf("WithLabels = %q", got)
	}
}

func TestLabeledSeriesShareType(t *testing.T) {
	reg := New()
	reg.Counter(WithLabels("kai_errors_total", "stage", "embed"), "Errors").Inc()
	reg.Counter(WithLabels("kai_errors_total", "stage", "store"), "Errors").Add(2)

	out := reg.Render()
	if strings.Count(out, "# TYPE kai_errors_total counter") != 1 {
		t.Errorf("TYPE line not deduplicated:\n%s", out)
	}
	if !strings.Contains(out, `kai_errors_total{stage="embed"} 1`) {
		t.Errorf("missing embed series:\n%s", out)
	}
	if !strings.Contains(out, `kai_errors_total{stage="store"} 2`) {
		t.Errorf("missing store series:\n%s", out)
	}
}

func TestHistogramRender(t *testing.T) {
	reg := New()
	h := reg.Histogram("kai_latency_seconds", "Latency", []float64{0.1, 1, 10})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(0.7)
	h.Observe(100) // beyond the last bucket, lands only in +Inf

	out := reg.Render()
	for _, want := range []string{
		`kai_latency_seconds_bucket{le="0.1"} 1`,
		`kai_latency_seconds_bucket{le="1"} 3`,
		`kai_latency_seconds_bucket{le="10"} 3`,
		`kai_latency_seconds_bucket{le="+Inf"} 4`,
		`kai_latency_seconds_count 4`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestHandler(t *testing.T) {
	reg := New()
	reg.Counter("kai_up", "").Inc()

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "kai_up 1") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
