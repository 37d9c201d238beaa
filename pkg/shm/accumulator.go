// Package shm hosts the run accumulator inside a System V shared-memory
// segment so that worker processes can publish into it directly.
//
// Layout of the segment:
//
//	offset 0  uint32  lock state (uninitialized, ready, destroyed)
//	offset 4  uint32  lock word (0 free, 1 held)
//	offset 8  uint64  IEEE-754 bits of the accumulated value
//
// Every process maps the same physical pages, so the lock is a plain
// compare-and-swap on the shared word.
package shm

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	// SegmentSize is what the driver asks the kernel for.
	SegmentSize = 1024

	headerSize = 16

	stateUninit    uint32 = 0
	stateReady     uint32 = 0x67706931
	stateDestroyed uint32 = 0x67706930

	spinsBeforeSleep = 64
	contendedSleep   = 50 * time.Microsecond
)

var (
	ErrShortSegment     = errors.New("segment too small for accumulator")
	ErrMisaligned       = errors.New("segment is not 8-byte aligned")
	ErrLockInitialized  = errors.New("accumulator lock already initialized")
	ErrLockNotReady     = errors.New("accumulator lock not initialized or already destroyed")
	ErrLockBusy         = errors.New("accumulator lock is held")
	ErrLockNotHeld      = errors.New("accumulator lock released while not held")
	ErrUnsupported      = errors.New("System V shared memory is not supported on this platform")
	ErrSegmentDetached  = errors.New("segment already detached")
	ErrNotSegmentOwner  = errors.New("only the creating process removes the segment")
	ErrInvalidTokenPath = errors.New("empty shared-memory token path")
)

// Accumulator is an accumulator.Accumulator whose value and lock live in a
// shared byte region.
type Accumulator struct {
	state *uint32
	lock  *uint32
	bits  *uint64
}

// NewAccumulator overlays an Accumulator on mem. It does not initialize the
// lock; the creating process calls Init once, attaching processes do not.
func NewAccumulator(mem []byte) (*Accumulator, error) {
	if len(mem) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortSegment, len(mem))
	}
	base := unsafe.Pointer(&mem[0])
	if uintptr(base)%8 != 0 {
		return nil, ErrMisaligned
	}
	return &Accumulator{
		state: (*uint32)(base),
		lock:  (*uint32)(unsafe.Add(base, 4)),
		bits:  (*uint64)(unsafe.Add(base, 8)),
	}, nil
}

// Init prepares the lock and zeroes the value.
func (a *Accumulator) Init() error {
	if !atomic.CompareAndSwapUint32(a.state, stateUninit, stateReady) {
		return ErrLockInitialized
	}
	atomic.StoreUint32(a.lock, 0)
	atomic.StoreUint64(a.bits, math.Float64bits(0))
	return nil
}

// Destroy retires the lock. It fails while any process holds it.
func (a *Accumulator) Destroy() error {
	if atomic.LoadUint32(a.lock) != 0 {
		return ErrLockBusy
	}
	if !atomic.CompareAndSwapUint32(a.state, stateReady, stateDestroyed) {
		return ErrLockNotReady
	}
	return nil
}

func (a *Accumulator) Acquire() error {
	if atomic.LoadUint32(a.state) != stateReady {
		return ErrLockNotReady
	}
	for spins := 0; !atomic.CompareAndSwapUint32(a.lock, 0, 1); spins++ {
		if spins < spinsBeforeSleep {
			runtime.Gosched()
			continue
		}
		time.Sleep(contendedSleep)
	}
	return nil
}

func (a *Accumulator) Release() error {
	if !atomic.CompareAndSwapUint32(a.lock, 1, 0) {
		return ErrLockNotHeld
	}
	return nil
}

func (a *Accumulator) Add(delta float64) {
	cur := math.Float64frombits(atomic.LoadUint64(a.bits))
	atomic.StoreUint64(a.bits, math.Float64bits(cur+delta))
}

// Value reads the shared sum. The driver only calls it once every worker
// process has exited.
func (a *Accumulator) Value() float64 {
	return math.Float64frombits(atomic.LoadUint64(a.bits))
}
