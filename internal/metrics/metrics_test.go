package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(Alerts.WithLabelValues("sent"))
	Alerts.WithLabelValues("sent").Inc()
	if got := testutil.ToFloat64(Alerts.WithLabelValues("sent")); got != before+1 {
		t.Errorf("alerts{sent} = %v, want %v", got, before+1)
	}
}

func TestCollectors_Lint(t *testing.T) {
	Ticks.WithLabelValues("completed")
	PrintJobs.WithLabelValues("delivered")

	collectors := map[string]prometheus.Collector{
		"ticks":        Ticks,
		"connectivity": ConnectivityChecks,
		"decisions":    TonerDecisions,
		"panics":       DevicePanics,
		"alerts":       Alerts,
		"jobs":         PrintJobs,
		"bytes":        PrintBytes,
	}
	for name, c := range collectors {
		problems, err := testutil.CollectAndLint(c)
		if err != nil {
			t.Fatalf("%s: CollectAndLint: %v", name, err)
		}
		for _, p := range problems {
			t.Errorf("%s: %s: %s", name, p.Metric, p.Text)
		}
	}
}
