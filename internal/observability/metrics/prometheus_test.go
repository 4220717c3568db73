package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveReconciliation("ok", time.Now(), 3)
	m.SchedulesChanged(1, 1)
	m.SetPending(4)
	m.Evicted()
	m.Delivered("sent")
	m.CardOperation("change_pin", "success")
	m.BreakerState("pushover", 1)
}

func TestRecording(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveReconciliation("ok", time.Now(), 3)
	m.ObserveReconciliation("ok", time.Now(), 2)
	m.SetPending(7)
	m.CardOperation("change_pin", "wrong_secret_warning")

	if got := testutil.ToFloat64(m.RequestsScheduled); got != 5 {
		t.Errorf("RequestsScheduled = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.Reconciliations.WithLabelValues("ok")); got != 2 {
		t.Errorf("Reconciliations{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PendingNotifications); got != 7 {
		t.Errorf("PendingNotifications = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.CardOperations.WithLabelValues("change_pin", "wrong_secret_warning")); got != 1 {
		t.Errorf("CardOperations = %v, want 1", got)
	}
}
