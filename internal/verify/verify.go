// Package verify decides whether a credential pair is live by attempting a
// protocol login against the mail provider.
package verify

import (
	"context"
)

type Outcome int

const (
	Success Outcome = iota
	AuthFailure
	TransientError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case AuthFailure:
		return "auth_failure"
	case TransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	Reason  string
}

// Checker verifies that address/password currently authenticate.
type Checker interface {
	Check(ctx context.Context, address, password string) Result
}

// StaticChecker returns a fixed outcome. It backs VERIFY_MODE=simulate and tests.
type StaticChecker struct {
	Outcome Outcome
	Reason  string
}

func (s StaticChecker) Check(ctx context.Context, address, password string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Outcome: TransientError, Reason: err.Error()}
	}
	return Result{Outcome: s.Outcome, Reason: s.Reason}
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, address, password string) Result

func (f CheckerFunc) Check(ctx context.Context, address, password string) Result {
	return f(ctx, address, password)
}
