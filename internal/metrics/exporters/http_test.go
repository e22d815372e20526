package exporters

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smazurov/camhw/internal/metrics"
)

func TestHTTPHandler(t *testing.T) {
	metrics.ObserveStreamTransition("exporter_test", metrics.DirectionOn, metrics.OutcomeOK)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	HTTPHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `camhw_stream_transitions_total{direction="on",family="exporter_test",outcome="ok"} 1`) {
		t.Errorf("stream transition counter missing from output:\n%s", body)
	}
}
