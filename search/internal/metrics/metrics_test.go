package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector()

	c.RecordSource("apollo", "ok", 120*time.Millisecond)
	c.RecordSource("apollo", "ok", 80*time.Millisecond)
	c.RecordSource("1mg", "timed_out", 30*time.Second)
	c.RecordCacheLookup(true)
	c.RecordCacheLookup(false)
	c.RecordCacheLookup(false)
	c.HeavySlotAcquired()
	c.HeavySlotAcquired()
	c.HeavySlotReleased()

	if got := testutil.ToFloat64(c.sourceResults.WithLabelValues("apollo", "ok")); got != 2 {
		t.Errorf("apollo ok: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.sourceResults.WithLabelValues("1mg", "timed_out")); got != 1 {
		t.Errorf("1mg timed_out: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache miss: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.heavyInUse); got != 1 {
		t.Errorf("heavy in use: got %v, want 1", got)
	}

	mfs, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected metric families")
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordSource("x", "ok", time.Second)
	c.RecordCacheLookup(true)
	c.RecordSearch(time.Second, false)
	c.HeavySlotAcquired()
	c.HeavySlotReleased()
	if c.Registry() != nil {
		t.Fatal("nil collector has no registry")
	}
}
