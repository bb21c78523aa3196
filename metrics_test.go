package refmap

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	m := NewMap[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)
	s := NewSet[string]()
	s.Add("x")

	c := NewCollector("positions", m)
	c.Add("names", s)

	if n := testutil.CollectAndCount(c); n != 10 {
		t.Fatalf("expected 10 metrics, got %d", n)
	}
	if n := testutil.CollectAndCount(c, "refmap_entries"); n != 2 {
		t.Fatalf("expected 2 entry gauges, got %d", n)
	}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(c, ReclaimCollector)
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	entries := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "refmap_entries" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "map" {
					entries[l.GetValue()] = metric.GetGauge().GetValue()
				}
			}
		}
	}
	if entries["positions"] != 3 || entries["names"] != 1 {
		t.Fatalf("unexpected entry gauges %v", entries)
	}

	c.Remove("names")
	if n := testutil.CollectAndCount(c, "refmap_entries"); n != 1 {
		t.Fatalf("expected 1 entry gauge after remove, got %d", n)
	}
}

func TestReclaimCollector(t *testing.T) {
	if n := testutil.CollectAndCount(ReclaimCollector); n != 2 {
		t.Fatalf("expected 2 metrics, got %d", n)
	}

	c := NewCollector("a", NewMap[int, int]())
	c.Add("b", NewMap[int, int]())
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register map collector: %v", err)
	}
	if err := reg.Register(ReclaimCollector); err != nil {
		t.Fatalf("register reclaim collector: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	_, dropped := ReclaimStats()
	found := false
	for _, f := range families {
		if f.GetName() == "refmap_reclaim_dropped_total" {
			found = true
			if got := f.GetMetric()[0].GetCounter().GetValue(); got < float64(dropped) {
				t.Fatalf("dropped counter %v behind ReclaimStats %d", got, dropped)
			}
		}
	}
	if !found {
		t.Fatal("refmap_reclaim_dropped_total not exported")
	}
}
