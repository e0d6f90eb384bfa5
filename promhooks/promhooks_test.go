package promhooks

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counter returns the value of name{label=value}, or of name if label is "".
func counter(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := New(reg, "test")
	if err != nil {
		t.Fatal(err)
	}

	h.Resynced("s1", 1, 3, 2)
	h.Resynced("s2", 0, 1, 0)
	h.Evicted("s1", "deleted")
	h.Evicted("s2", "deleted")
	h.Evicted("s3", "gen_race")
	h.CacheRejected("s1", 1, 2)
	h.SelfHeal("s1", "corrupt")
	h.FlushFailed("s1", "attributes", errors.New("x"))

	checks := []struct {
		name, label, value string
		want               float64
	}{
		{"test_resyncs_total", "", "", 2},
		{"test_resync_removed_attributes_total", "", "", 2},
		{"test_evictions_total", "reason", "deleted", 2},
		{"test_evictions_total", "reason", "gen_race", 1},
		{"test_cache_rejections_total", "", "", 1},
		{"test_self_heals_total", "reason", "corrupt", 1},
		{"test_flush_failures_total", "step", "attributes", 1},
	}
	for _, c := range checks {
		if got := counter(t, reg, c.name, c.label, c.value); got != c.want {
			t.Fatalf("%s{%s=%q}=%v want %v", c.name, c.label, c.value, got, c.want)
		}
	}
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg, ""); err == nil {
		t.Fatal("second registration under the same namespace succeeded")
	}
}
