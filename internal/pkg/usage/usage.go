// Package usage carries a per-call token and cost meter through a context so
// provider adapters can report what a capability attempt consumed.
package usage

import (
	"context"
	"sync"
)

type Meter struct {
	mu           sync.Mutex
	calls        int
	inputTokens  int
	outputTokens int
	costUSD      float64
	model        string
}

type Snapshot struct {
	Calls        int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Model        string
}

type meterKey struct{}

// Track returns a child context carrying a fresh meter.
func Track(ctx context.Context) (context.Context, *Meter) {
	m := &Meter{}
	return context.WithValue(ctx, meterKey{}, m), m
}

func From(ctx context.Context) *Meter {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}

// Record adds one provider call to the meter in ctx, if any.
func Record(ctx context.Context, model string, in, out int, costUSD float64) {
	m := From(ctx)
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.inputTokens += in
	m.outputTokens += out
	m.costUSD += costUSD
	if model != "" {
		m.model = model
	}
}

func (m *Meter) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Calls:        m.calls,
		InputTokens:  m.inputTokens,
		OutputTokens: m.outputTokens,
		CostUSD:      m.costUSD,
		Model:        m.model,
	}
}
