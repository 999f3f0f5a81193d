// Package fiber implements the stackful task primitive described by the
// scheduler: a unit of cooperative execution that can suspend itself and be
// resumed later from wherever it left off.
//
// The original (ljrServer's Fiber, fiber.h/fiber.cpp) realizes this with
// ucontext_t and a manually managed stack, swapping raw machine context
// between a "main" fiber and a "sub" fiber on the same OS thread. Go does
// not expose makecontext/swapcontext, and spawning a goroutine per Fiber
// already gives each one an independently growable, GC-managed stack, so
// this port models resume/yield as a handoff between two goroutines
// synchronized by a pair of unbuffered rendezvous channels: the caller
// blocks on yieldCh after sending on resumeCh, the Fiber's goroutine blocks
// on resumeCh after sending on yieldCh. Exactly one side runs at a time, which
// is the same non-preemptive guarantee swapcontext gives the original.
package fiber

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/lijianran/ljrserver/internal/config"
	"github.com/lijianran/ljrserver/internal/logging"
)

var log = logging.Named("fiber")

// stackSizeVar registers fiber.stack_size for interface parity with the
// original's per-fiber stack allocation size. Go goroutine stacks start at
// a few KB and grow on demand, so nothing here actually sizes anything off
// it; it's kept as a reported value for deployments migrating off the
// original's fixed-size ucontext stacks.
var stackSizeVar = config.LookupOrDefine(config.Default(), "fiber.stack_size", 131072,
	"advisory per-fiber stack size hint in bytes; Go goroutine stacks grow on demand and are never pre-sized")

// StackSizeHint returns the configured fiber.stack_size value.
func StackSizeHint() int { return stackSizeVar.Value() }

// State mirrors the original's Fiber::State enum.
type State int

const (
	// INIT is the state of a freshly constructed Fiber that has never run.
	INIT State = iota
	// HOLD is a Fiber that yielded voluntarily and is waiting to be resumed.
	HOLD
	// EXEC is the Fiber currently running on its owning goroutine.
	EXEC
	// TERM is a Fiber whose function returned normally.
	TERM
	// READY is a Fiber that has been scheduled and is waiting for its turn.
	READY
	// EXCEPT is a Fiber whose function panicked.
	EXCEPT
)

func (s State) String() string {
	switch s {
	case INIT:
		return "INIT"
	case HOLD:
		return "HOLD"
	case EXEC:
		return "EXEC"
	case TERM:
		return "TERM"
	case READY:
		return "READY"
	case EXCEPT:
		return "EXCEPT"
	default:
		return "UNKNOWN"
	}
}

var idSeq atomic.Uint64
var totalFibers atomic.Int64

// Fiber is a cooperatively scheduled task. A zero Fiber is not usable; use
// New.
type Fiber struct {
	id    uint64
	state State
	fn    func()

	// resumeCh carries control from the resumer into the fiber's goroutine;
	// yieldCh carries it back out. Both are unbuffered so a send always
	// rendezvous with the other side's corresponding receive, giving the
	// same "exactly one runner" property as a context swap.
	resumeCh chan struct{}
	yieldCh  chan struct{}

	started bool
	caller  *Fiber // the fiber that resumed this one, for YieldToHold/YieldToReady
	panic   any
}

// perThread tracks, for the calling goroutine, the Fiber currently
// executing on it and that thread's implicit "main" fiber, mirroring the
// original's thread-local t_fiber/t_threadFiber pair. Go has no stable
// thread-local storage, so each goroutine gets its own perThread entry,
// read and written via SetThis/GetThis below.
type perThread struct {
	current *Fiber
	main    *Fiber
}

// threadLocal approximates thread-local storage with a map keyed by the
// calling goroutine's id (see tls.go). Every Fiber runs on its own
// goroutine, so each Fiber body, and each worker's dispatch loop, sees its
// own entry. This matches the original's single constraint: thread-locals
// are only ever touched from the owning OS thread.
var threadLocal = newThreadLocalStore()

// New constructs a Fiber that will run fn when first resumed. Unlike the
// original's constructor it takes no stack size: the fiber runs on a
// goroutine whose stack grows on demand.
func New(fn func()) *Fiber {
	f := &Fiber{
		id:       idSeq.Add(1),
		state:    INIT,
		fn:       fn,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
	}
	totalFibers.Add(1)
	return f
}

// newMain wraps the calling goroutine itself as a thread's bootstrap fiber:
// it has no fn, starts EXEC, and its resume/yield channels are never used
// because swapIn/swapOut on the main fiber are no-ops (the dispatch loop IS
// this goroutine already). This mirrors GetThis() lazily constructing
// t_threadFiber the first time a thread enters the scheduler.
func newMain() *Fiber {
	return &Fiber{
		id:    idSeq.Add(1),
		state: EXEC,
	}
}

// GetId returns the fiber's identity, stable for its lifetime and never
// reused (ids are a monotonically increasing counter), matching invariant
// (ii) from the data model.
func (f *Fiber) GetId() uint64 { return f.id }

// GetState returns the fiber's current lifecycle state.
func (f *Fiber) GetState() State { return f.state }

// SwapIn transfers control from the calling goroutine (the current fiber on
// this worker) into f, blocking the caller until f yields or terminates.
// The first call starts f's goroutine; subsequent calls resume it from
// wherever it last yielded.
//
// GetThis() inside f's own body is made correct by f itself, not by SwapIn:
// trampoline installs f on its own goroutine before running fn, since that
// goroutine (not the caller's) is what fn and anything it calls (doIO,
// YieldToHold, ...) actually execute on.
func (f *Fiber) SwapIn() {
	prev := GetThis()
	f.caller = prev
	f.state = EXEC

	if !f.started {
		f.started = true
		go f.trampoline()
	} else {
		f.resumeCh <- struct{}{}
	}

	<-f.yieldCh
	SetThis(prev)
}

// trampoline is the body of a Fiber's goroutine: it installs f as the
// current fiber for this goroutine, runs fn to completion (recovering
// panics into EXCEPT state, mirroring the original's try/catch around
// Fiber::MainFunc), then reports TERM or EXCEPT and hands control back
// permanently. Once trampoline returns, this goroutine is gone; a Reset
// fiber is resumed by spawning a fresh one on its next SwapIn, not by
// reusing this goroutine past its own return.
func (f *Fiber) trampoline() {
	SetThis(f)
	defer func() {
		if r := recover(); r != nil {
			f.state = EXCEPT
			f.panic = r
			log.Err().Err(fmt.Errorf("%v", r)).Str("stack", string(debug.Stack())).Log("fiber panicked")
		} else if f.state != TERM {
			f.state = TERM
		}
		totalFibers.Add(-1)
		f.yieldCh <- struct{}{}
	}()

	f.fn()
	f.state = TERM
}

// Reset reinitializes a Fiber to run fn as though newly constructed,
// without allocating a new one: the id and rendezvous channels are kept,
// matching reset(entry)'s precondition (state must be INIT, TERM, or
// EXCEPT) and its purpose of recycling the stack with a fresh entry
// closure. Go cannot literally hand a finished goroutine's stack to a new
// function, so what carries over here is the Fiber's identity: the next
// SwapIn spawns a fresh goroutine lazily, exactly as it would for a fiber
// fresh out of New. This is what lets the scheduler keep a single
// long-lived callback Fiber per worker and Reset it between dispatches
// instead of allocating one per callback.
func (f *Fiber) Reset(fn func()) {
	switch f.state {
	case TERM, EXCEPT:
		totalFibers.Add(1)
	case INIT:
		// never run; nothing to reclaim.
	default:
		panic(fmt.Sprintf("fiber: Reset called on fiber %d in state %s, want INIT/TERM/EXCEPT", f.id, f.state))
	}
	f.fn = fn
	f.panic = nil
	f.started = false
	f.caller = nil
	f.state = INIT
}

// swapOut suspends the currently running fiber (f), handing control back to
// whichever fiber called SwapIn on it, leaving f in its current state
// (HOLD or READY, set by the caller via YieldToHold/YieldToReady before
// calling this). This mirrors Fiber::swapOut.
func (f *Fiber) swapOut() {
	f.yieldCh <- struct{}{}
	<-f.resumeCh
}

// YieldToReady suspends the currently executing fiber, marking it READY
// (eligible for immediate re-scheduling), and returns control to its
// resumer.
func YieldToReady() {
	cur := GetThis()
	if cur == nil {
		return
	}
	cur.state = READY
	cur.swapOut()
}

// YieldToHold suspends the currently executing fiber, marking it HOLD
// (parked until something explicitly resumes it, e.g. a reactor event or
// timer), and returns control to its resumer.
func YieldToHold() {
	cur := GetThis()
	if cur == nil {
		return
	}
	cur.state = HOLD
	cur.swapOut()
}

// TotalFibers returns the number of live (non-terminated) fibers in the
// process, for diagnostics.
func TotalFibers() int64 { return totalFibers.Load() }

// GetThis returns the fiber currently executing on the calling worker.
func GetThis() *Fiber {
	return threadLocal.get().current
}

// SetThis sets the fiber currently executing on the calling worker.
func SetThis(f *Fiber) {
	threadLocal.get().current = f
}

// EnsureMain lazily creates and installs the calling worker's bootstrap
// fiber the first time it's needed, mirroring Fiber::GetThis()'s lazy
// construction of t_threadFiber, and returns it.
func EnsureMain() *Fiber {
	pt := threadLocal.get()
	if pt.main == nil {
		pt.main = newMain()
		pt.current = pt.main
	}
	return pt.main
}
