package testutil

import (
	"context"
	"sync"

	"github.com/yungbote/quickentry-backend/internal/data/aggregates"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
)

// InjectedTxRunner wraps a real runner and injects failures around the body.
type InjectedTxRunner struct {
	mu sync.Mutex

	Inner aggregates.TxRunner

	FailBegin error
	// FailAfterBody fails the transaction after fn succeeds, forcing rollback.
	FailAfterBody error

	BeginCalls    int
	CommitCalls   int
	RollbackCalls int
}

var _ aggregates.TxRunner = (*InjectedTxRunner)(nil)

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.BeginCalls++
	failBegin, failAfter := r.FailBegin, r.FailAfterBody
	r.mu.Unlock()

	if failBegin != nil {
		return failBegin
	}
	run := func(dbc dbctx.Context) error {
		if err := fn(dbc); err != nil {
			return err
		}
		return failAfter
	}
	var err error
	if r.Inner != nil {
		err = r.Inner.InTx(ctx, run)
	} else {
		err = run(dbctx.Context{Ctx: ctx})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.RollbackCalls++
		return err
	}
	r.CommitCalls++
	return nil
}
