package testutil

import (
	"testing"
	"time"

	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/capability"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

// Policy is the default policy with millisecond backoffs.
func Policy() policy.Policy {
	pol := policy.Default()
	for name, c := range pol.Capabilities {
		c.BaseBackoff = time.Millisecond
		c.MaxBackoff = time.Millisecond
		pol.Capabilities[name] = c
	}
	return pol
}

func Runner(tb testing.TB, pol policy.Policy) *capability.Runner {
	tb.Helper()
	r, err := capability.NewRunner(logger.Nop(), pol, nil)
	if err != nil {
		tb.Fatalf("NewRunner: %v", err)
	}
	return r
}
