package core

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRelease marks a release that would drive a ledger below zero.
// It is carried by a panic, never returned: it always means the caller's
// bookkeeping is broken.
var ErrInvalidRelease = errors.New("invalid release")

// InvalidReleaseError is the panic value raised by Ledger.Release on underflow.
type InvalidReleaseError struct {
	Resource string
	Used     float64
	Amount   float64
}

func (e *InvalidReleaseError) Error() string {
	return fmt.Sprintf("%s: %s releases %g but only %g is reserved", ErrInvalidRelease, e.Resource, e.Amount, e.Used)
}

func (e *InvalidReleaseError) Unwrap() error { return ErrInvalidRelease }

// Ledger tracks reserved against total capacity for one resource (MIPS on a
// host, bits per second on a link).
//
// Reserve is plain admission control: it either fits or it does not, and
// nothing is queued.
type Ledger struct {
	name     string
	capacity float64
	used     float64
}

// NewLedger returns an empty ledger. name is only used in panic messages.
func NewLedger(name string, capacity float64) Ledger {
	return Ledger{name: name, capacity: capacity}
}

func (l *Ledger) Capacity() float64 { return l.capacity }
func (l *Ledger) Used() float64     { return l.used }

// Remaining returns the unreserved capacity.
func (l *Ledger) Remaining() float64 { return l.capacity - l.used }

// Utilization returns used/capacity, or 0 for a zero-capacity ledger.
func (l *Ledger) Utilization() float64 {
	if l.capacity <= 0 {
		return 0
	}
	return l.used / l.capacity
}

// Reserve books amount if it fits and reports whether it did. A failed
// reservation leaves the ledger untouched.
func (l *Ledger) Reserve(amount float64) bool {
	if amount < 0 || math.IsNaN(amount) {
		return false
	}
	next := l.used + amount
	if next > l.capacity+l.tolerance(amount) {
		return false
	}
	l.used = math.Min(next, l.capacity)
	return true
}

// Release returns amount to the ledger. It panics with *InvalidReleaseError
// if more is released than is reserved.
func (l *Ledger) Release(amount float64) {
	if amount < 0 || math.IsNaN(amount) || l.used-amount < -l.tolerance(amount) {
		panic(&InvalidReleaseError{Resource: l.name, Used: l.used, Amount: amount})
	}
	tol := l.tolerance(amount)
	l.used -= amount
	// Float residue snaps to zero so an idle ledger reads exactly 0.
	if math.Abs(l.used) <= tol {
		l.used = 0
	}
}

func (l *Ledger) tolerance(amount float64) float64 {
	return 1e-9 * math.Max(1, math.Max(math.Abs(amount), math.Abs(l.used)))
}
