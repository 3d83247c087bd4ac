package circuit

import (
	"context"
	"sync/atomic"
)

type reportKey struct{}

// Report receives the outcome of the guarded attempt that runs under the
// context returned by WithReport. Providers that do not use a Guard leave
// it untouched.
type Report struct {
	failed atomic.Bool
}

func WithReport(ctx context.Context) (context.Context, *Report) {
	report := &Report{}
	return context.WithValue(ctx, reportKey{}, report), report
}

// Failed reports whether an attempt under the context ended in an error,
// timeout or panic.
func (r *Report) Failed() bool {
	return r != nil && r.failed.Load()
}

func reportFailure(ctx context.Context) {
	if report, ok := ctx.Value(reportKey{}).(*Report); ok {
		report.failed.Store(true)
	}
}
