package aggregates

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/pkg/dbctx"
	"github.com/yungbote/quickentry-backend/internal/pkg/httpx"
)

// TxRunner provides the transaction boundary for multi-table writes.
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type gormTxRunner struct {
	db          *gorm.DB
	maxAttempts int
	backoff     time.Duration
}

// NewGormTxRunner returns a runner that retries the whole transaction on
// serialization failures and deadlocks.
func NewGormTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db, maxAttempts: 3, backoff: 25 * time.Millisecond}
}

func (r *gormTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if r == nil || r.db == nil {
		return entries.NewError(entries.KindPersistenceFailed, "transaction runner has nil db", nil)
	}
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(dbctx.Context{Ctx: ctx, Tx: tx})
		})
		if err == nil {
			return nil
		}
		mapped := MapError("tx", err)
		if !IsRetryable(mapped) || attempt == r.maxAttempts {
			return mapped
		}
		if serr := httpx.Sleep(ctx, httpx.JitterSleep(httpx.Backoff(attempt, r.backoff, time.Second))); serr != nil {
			return mapped
		}
	}
	return MapError("tx", err)
}
