package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestAlertEventCounter(t *testing.T) {
	Init(nil, zerolog.Nop())

	before := testutil.ToFloat64(alertEventsTotal.WithLabelValues("start", "warning"))
	IncAlertEvent("start", "warning")
	IncAlertEvent("start", "warning")
	after := testutil.ToFloat64(alertEventsTotal.WithLabelValues("start", "warning"))
	if after-before != 2 {
		t.Fatalf("expected 2 increments, got %v", after-before)
	}
}

func TestThresholdRefreshOnlySetsCountOnSuccess(t *testing.T) {
	Init(nil, zerolog.Nop())

	ObserveThresholdRefresh(ResultSuccess, 4)
	ObserveThresholdRefresh(ResultError, 0)
	if got := testutil.ToFloat64(thresholdCount); got != 4 {
		t.Fatalf("expected thresholds gauge 4, got %v", got)
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 503: "5xx"}
	for status, want := range cases {
		if got := statusClass(status); got != want {
			t.Fatalf("status %d: expected %s, got %s", status, want, got)
		}
	}
	ObserveHTTP("GET", 200, time.Millisecond)
}
