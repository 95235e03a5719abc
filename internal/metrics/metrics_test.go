package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsRecordingAndHandler(t *testing.T) {
	m := NewMetrics("test")

	m.RecordClaimed(3)
	m.RecordDelivery("sent")
	m.RecordDelivery("failed")
	m.RecordCycleDuration(0.05)
	m.RecordCycleSkipped()
	m.RecordTokenRefresh("success")
	m.RecordTokenRefresh("failure")
	m.RecordHTTPRequest("/health", "GET", "200")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "test_messages_claimed_total") {
		t.Fatalf("expected metrics output to contain claimed counter")
	}
	if !strings.Contains(body, "test_messages_delivered_total") {
		t.Fatalf("expected metrics output to contain delivery counter")
	}

	if _, err := m.registry.Gather(); err != nil {
		t.Fatalf("expected gather to succeed: %v", err)
	}
}
