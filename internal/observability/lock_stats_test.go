package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecordWaitConcurrent(t *testing.T) {
	ls := NewLockStats(time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				ls.RecordWait("orders", "write", time.Millisecond)
				ls.RecordWait("customers", "read", time.Millisecond)
			}
		}()
	}
	wg.Wait()

	top := ls.GetTopContended(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(top))
	}
	expected := int64(numGoroutines * recordsPerGoroutine)
	for _, s := range top {
		if s.Waits != expected {
			t.Errorf("expected %d waits for %s, got %d", expected, s.Table, s.Waits)
		}
	}
}

func TestGetTopContendedOrdering(t *testing.T) {
	ls := NewLockStats(time.Hour)
	ls.RecordWait("a", "read", 10*time.Millisecond)
	ls.RecordWait("b", "write", 50*time.Millisecond)
	ls.RecordWait("c", "write", 20*time.Millisecond)
	ls.RecordWait("c", "read", 20*time.Millisecond)

	top := ls.GetTopContended(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(top))
	}
	if top[0].Table != "b" || top[1].Table != "c" {
		t.Errorf("unexpected order: %s, %s", top[0].Table, top[1].Table)
	}
	if top[1].MaxWait != 20*time.Millisecond || top[1].Modes["read"] != 1 || top[1].Modes["write"] != 1 {
		t.Errorf("unexpected stats for c: %+v", top[1])
	}

	// returned copies are detached
	top[1].Modes["read"] = 100
	if ls.GetTopContended(3)[1].Modes["read"] != 1 {
		t.Error("GetTopContended must return copies")
	}
}

func TestRecordWaitIgnoresZero(t *testing.T) {
	ls := NewLockStats(time.Hour)
	ls.RecordWait("a", "read", 0)
	if len(ls.GetTopContended(1)) != 0 {
		t.Error("zero waits should not be recorded")
	}
}

func TestPruneAndForget(t *testing.T) {
	ls := NewLockStats(200 * time.Millisecond)
	ls.RecordWait("old", "read", time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	ls.RecordWait("new", "read", time.Millisecond)

	ls.Prune()
	top := ls.GetTopContended(10)
	if len(top) != 1 || top[0].Table != "new" {
		t.Fatalf("expected only 'new' after prune, got %+v", top)
	}

	ls.Forget("new")
	if len(ls.GetTopContended(10)) != 0 {
		t.Error("Forget should drop the table")
	}
}

func TestRegisterMetricsTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("second registration should be tolerated: %v", err)
	}

	ConstraintViolationCounter.WithLabelValues("test").Inc()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "xdb_constraint_violations_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected xdb_constraint_violations_total to be gathered")
	}
}
