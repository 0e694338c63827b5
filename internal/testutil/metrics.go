package testutil

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

// MetricValue scrapes the prometheus text exposition from a handler
// and returns the sample whose name and label set match the given
// series, e.g. `gateway_requests_total{class="static",outcome="hit"}`.
func MetricValue(t *testing.T, metrics http.Handler, series string) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics scrape status = %d", rec.Code)
	}

	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || !strings.HasPrefix(line, series) {
			continue
		}
		rest := strings.TrimSpace(line[len(series):])
		if rest == "" || strings.HasPrefix(rest, "{") {
			continue
		}
		value, err := strconv.ParseFloat(strings.Fields(rest)[0], 64)
		if err != nil {
			t.Fatalf("parse metric %s: %v", series, err)
		}
		return value
	}
	return 0
}
