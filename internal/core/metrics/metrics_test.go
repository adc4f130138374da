package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape returned %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics(t *testing.T) {
	m := New()
	m.Accepted("RTMP")
	m.Accepted("RTMP")
	m.SetActive("RTMP", 2)
	m.Swept("RTMP", 1)
	m.Swept("RTMP", 0)
	m.Rejected("RTMP", "full")
	m.Request("HTTP", true)
	m.Request("HTTP", false)

	body := scrape(t, m)
	for _, want := range []string{
		`mediaserver_sessions_accepted_total{server="RTMP"} 2`,
		`mediaserver_sessions_active{server="RTMP"} 2`,
		`mediaserver_sessions_swept_total{server="RTMP"} 1`,
		`mediaserver_sessions_rejected_total{reason="full",server="RTMP"} 1`,
		`mediaserver_http_requests_total{route="matched",server="HTTP"} 1`,
		`mediaserver_http_requests_total{route="not_found",server="HTTP"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition is missing %q", want)
		}
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.Accepted("RTMP")
	m.SetActive("RTMP", 1)
	m.Swept("RTMP", 1)
	m.Rejected("RTMP", "full")
	m.Request("HTTP", true)
}
