package policy

import "context"

// Restricted is the conservative stand-in for contexts that cannot reach the PDP.
// It performs no I/O.
type Restricted struct{}

func NewRestricted() *Restricted {
	return &Restricted{}
}

// Check always denies.
func (Restricted) Check(context.Context, Request) bool {
	return false
}

// EnsureRole does nothing.
func (Restricted) EnsureRole(context.Context, string, string, string) {}
