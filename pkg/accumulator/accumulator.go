// Package accumulator defines the single shared sum that workers publish
// their partial results into.
package accumulator

import (
	"fmt"
	"sync"
)

// Accumulator is a float64 guarded by a mutual-exclusion primitive. Add may
// only be called between a successful Acquire and the matching Release.
type Accumulator interface {
	Acquire() error
	Release() error
	Add(delta float64)
	Value() float64
}

// Deposit adds delta to acc under its lock. The lock is released on every
// path once acquired.
func Deposit(acc Accumulator, delta float64) (err error) {
	if err := acc.Acquire(); err != nil {
		return fmt.Errorf("acquire accumulator: %w", err)
	}
	defer func() {
		if rerr := acc.Release(); rerr != nil && err == nil {
			err = fmt.Errorf("release accumulator: %w", rerr)
		}
	}()
	acc.Add(delta)
	return nil
}

// Local is an Accumulator for workers sharing one address space.
type Local struct {
	mu    sync.Mutex
	value float64
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Acquire() error {
	l.mu.Lock()
	return nil
}

func (l *Local) Release() error {
	l.mu.Unlock()
	return nil
}

func (l *Local) Add(delta float64) { l.value += delta }

// Value reads the sum under the lock.
func (l *Local) Value() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}
