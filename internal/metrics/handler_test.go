package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewRegistry_IncludesRuntimeMetrics はGoランタイムのメトリクスが登録されていることを検証する。
func TestNewRegistry_IncludesRuntimeMetrics(t *testing.T) {
	reg := NewRegistry()
	_ = NewCollector(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("response should contain go_goroutines metric")
	}
}

// TestHandler_ServesMetrics は/metricsパスでメトリクスが返ることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordQuestionOperation("create", "success")

	handler := Handler(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, "qaboard_question_operations_total") {
		t.Error("response should contain qaboard_question_operations_total metric")
	}
}
