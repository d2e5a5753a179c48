package usage

import (
	"context"
	"sync"
	"testing"
)

func TestRecordAccumulates(t *testing.T) {
	ctx, m := Track(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Record(ctx, "m1", 10, 5, 0.001)
		}()
	}
	wg.Wait()
	s := m.Snapshot()
	if s.Calls != 10 || s.InputTokens != 100 || s.OutputTokens != 50 {
		t.Fatalf("snapshot: got=%+v", s)
	}
	if s.CostUSD < 0.0099 || s.CostUSD > 0.0101 {
		t.Fatalf("cost: want=0.01 got=%v", s.CostUSD)
	}
	if s.Model != "m1" {
		t.Fatalf("model: want=m1 got=%s", s.Model)
	}
}

func TestRecordWithoutMeterIsNoop(t *testing.T) {
	Record(context.Background(), "m", 1, 1, 1)
	if From(context.Background()) != nil {
		t.Fatalf("expected no meter")
	}
	var m *Meter
	if got := m.Snapshot(); got.Calls != 0 {
		t.Fatalf("nil snapshot: got=%+v", got)
	}
}
