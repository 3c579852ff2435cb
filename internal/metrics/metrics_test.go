package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_ObserveDelivery(t *testing.T) {
	m := New()
	m.ObserveDelivery("delivered", "cached", 120*time.Millisecond)
	m.ObserveDelivery("delivered", "cached", 80*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	want := `qqrelay_deliveries_total{status="delivered",tier="cached"} 2`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("missing %q in output", want)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDelivery("failed", "none", time.Second)
	m.ObserveTier("button", "timeout")
	m.SetPending(3)
	m.ObserveEvent("READY")
	m.SetGatewayState(1)
	m.ObserveReconnect()
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetPending(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "qqrelay_pending_wakes 4") {
		t.Errorf("pending gauge missing from output:\n%s", rec.Body.String())
	}
}
