// Package scheduler implements the N-threads x M-tasks cooperative
// scheduler described by the framework: a pool of worker goroutines that
// repeatedly pull runnable fibers (or plain callbacks) off a shared FIFO
// queue and run them to their next suspension point.
//
// This is a direct port of ljrServer's Scheduler (scheduler.h/scheduler.cpp):
// the dispatch algorithm (scan for a runnable entry pinned to this worker or
// unpinned, skip entries pinned elsewhere, fall back to an idle fiber when
// the queue is empty) is preserved; "OS thread" becomes "worker goroutine",
// and swapcontext becomes fiber.Fiber.SwapIn, per the adaptation documented
// in SPEC_FULL.md.
package scheduler

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lijianran/ljrserver/fiber"
	"github.com/lijianran/ljrserver/internal/logging"
)

var log = logging.Named("scheduler")

// AnyThread is the pseudo thread id meaning "runnable on whichever worker
// picks it up first", mirroring the original's thread == -1 convention.
const AnyThread = -1

// Hooks lets an embedder (the reactor, principally) override the three
// virtual points of the original Scheduler: tickle (wake a sleeping
// worker), stopping (whether the scheduler may shut down yet) and idle
// (what a worker with nothing else to do should run). A nil Hooks field
// falls back to the base behavior (no-op tickle, stop once the queue drains
// and no callers remain, busy-loop yield for idle).
type Hooks interface {
	Tickle()
	Stopping() bool
	Idle()
}

type entry struct {
	fiber  *fiber.Fiber
	cb     func()
	thread int
}

func (e *entry) empty() bool { return e.fiber == nil && e.cb == nil }

// Scheduler is the N-M task scheduler. The zero value is not usable; use
// New.
type Scheduler struct {
	name      string
	useCaller bool
	hooks     Hooks

	mu    sync.Mutex
	queue *list.List // of *entry

	threadIDs   []uint64
	threadCount int
	rootThread  uint64

	activeThreadCount atomic.Int64
	idleThreadCount   atomic.Int64

	stopping bool
	autoStop bool

	rootFiber *fiber.Fiber

	wg sync.WaitGroup

	started atomic.Bool
}

// New constructs a Scheduler with the given worker count. If useCaller is
// true, the goroutine that calls Call is itself recruited as worker 0
// instead of spawning an extra goroutine for it, mirroring the original's
// use_caller constructor argument.
func New(threads int, useCaller bool, name string) *Scheduler {
	if threads < 1 {
		threads = 1
	}
	s := &Scheduler{
		name:        name,
		useCaller:   useCaller,
		queue:       list.New(),
		threadCount: threads,
		stopping:    true,
	}
	if useCaller {
		threads--
		s.threadCount = threads
	}
	return s
}

// SetHooks installs the tickle/stopping/idle overrides. Must be called
// before Start.
func (s *Scheduler) SetHooks(h Hooks) { s.hooks = h }

// Name returns the scheduler's name, for logging.
func (s *Scheduler) Name() string { return s.name }

// workerState holds the "current scheduler" and "this worker's main fiber",
// keyed by goroutine id in tls below, mirroring
// Scheduler::GetThis()/GetMainFiber()'s thread-local statics.
type workerState struct {
	sched      *Scheduler
	mainFiber  *fiber.Fiber
	workerSlot int // this worker's pin-target index; 0 until set
}

var (
	tlsMu sync.Mutex
	tls   = map[uint64]*workerState{}
)

func currentWorker() *workerState {
	id := fiber.GID()
	tlsMu.Lock()
	defer tlsMu.Unlock()
	ws, ok := tls[id]
	if !ok {
		ws = &workerState{}
		tls[id] = ws
	}
	return ws
}

// GetThis returns the Scheduler running on the calling worker goroutine, or
// nil if none.
func GetThis() *Scheduler { return currentWorker().sched }

// GetMainFiber returns the calling worker's bootstrap fiber (the dispatch
// loop's own fiber identity), lazily created.
func GetMainFiber() *fiber.Fiber {
	ws := currentWorker()
	if ws.mainFiber == nil {
		ws.mainFiber = fiber.EnsureMain()
	}
	return ws.mainFiber
}

// Schedule queues a fiber for execution, optionally pinned to a specific
// worker index (AnyThread for unpinned). Plain callbacks go through
// ScheduleFunc.
func (s *Scheduler) Schedule(fc *fiber.Fiber, thread int) {
	needTickle := s.scheduleNoLock(&entry{fiber: fc, thread: thread})
	if needTickle && s.hooks != nil {
		s.hooks.Tickle()
	}
}

// ScheduleFunc is Schedule's callback-based overload.
func (s *Scheduler) ScheduleFunc(cb func(), thread int) {
	needTickle := s.scheduleNoLock(&entry{cb: cb, thread: thread})
	if needTickle && s.hooks != nil {
		s.hooks.Tickle()
	}
}

func (s *Scheduler) scheduleNoLock(e *entry) bool {
	if e.empty() {
		return false
	}
	s.mu.Lock()
	needTickle := s.queue.Len() == 0
	s.queue.PushBack(e)
	s.mu.Unlock()
	return needTickle
}

func (s *Scheduler) hasIdleThreads() bool { return s.idleThreadCount.Load() > 0 }

// Start spins up the worker pool. Safe to call once; subsequent calls are
// no-ops, mirroring the original's "if not stopping, already started"
// guard.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if !s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = false
	s.mu.Unlock()

	if !s.started.CompareAndSwap(false, true) {
		return
	}

	base := 0
	if s.useCaller {
		base = 1 // slot 0 is reserved for the recruited caller thread
	}
	s.threadIDs = make([]uint64, 0, s.threadCount)
	for i := 0; i < s.threadCount; i++ {
		s.wg.Add(1)
		go s.workerLoop(fmt.Sprintf("%s_%d", s.name, i), base+i)
	}
}

// workerLoop is a freshly spawned worker's entry point: it installs itself
// as the current scheduler, creates its bootstrap fiber, registers its
// goroutine id, then runs the dispatch loop.
func (s *Scheduler) workerLoop(threadName string, slot int) {
	defer s.wg.Done()
	fiber.EnsureMain()

	id := fiber.GID()
	s.mu.Lock()
	s.threadIDs = append(s.threadIDs, id)
	s.mu.Unlock()

	s.run(slot)
}

// Call recruits the calling goroutine as worker 0 in use_caller mode: it
// installs scheduler state, then swaps into the scheduler's own
// "root fiber" which runs the dispatch loop, returning here only once the
// scheduler stops. This mirrors the original's caller-thread bootstrap via
// m_rootFiber plus Fiber::call()/back().
func (s *Scheduler) Call() {
	if !s.useCaller {
		return
	}
	fiber.EnsureMain()

	s.mu.Lock()
	s.rootThread = fiber.GID()
	s.mu.Unlock()

	if s.rootFiber == nil {
		s.rootFiber = fiber.New(func() { s.run(0) })
	}
	s.rootFiber.SwapIn()
}

// Stop requests shutdown: marks the scheduler stopping, wakes every worker,
// and (in use_caller mode) drains the caller's own root fiber before
// returning. It blocks until every worker goroutine has exited its
// dispatch loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.autoStop = true
	s.stopping = true
	s.mu.Unlock()

	if s.hooks != nil {
		for i := 0; i < s.threadCount+btoi(s.useCaller); i++ {
			s.hooks.Tickle()
		}
	}

	if s.useCaller && s.rootFiber != nil && s.rootFiber.GetState() != fiber.TERM {
		s.rootFiber.SwapIn()
	}

	s.wg.Wait()
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Stopping reports whether the scheduler has been asked to stop and has no
// remaining work, the base (overridable) implementation of the original's
// virtual stopping().
func (s *Scheduler) Stopping() bool {
	if s.hooks != nil {
		return s.hooks.Stopping()
	}
	return s.BaseStopping()
}

// BaseStopping is the non-overridable part of Stopping: whether a stop has
// been requested and the task queue has drained. An embedder's Hooks.
// Stopping implementation calls this and ANDs in its own extra conditions
// (e.g. the reactor also requires zero pending fd events and no armed
// timers), mirroring how IOManager::stopping() calls Scheduler::stopping()
// internally.
func (s *Scheduler) BaseStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoStop && s.stopping && s.queue.Len() == 0
}

// run is the dispatch loop body shared by every worker goroutine and (in
// use_caller mode) the recruited caller goroutine. It is a direct
// transliteration of Scheduler::run(): pop the next runnable entry not
// pinned elsewhere, resume it, and reschedule READY fibers; fall back to an
// idle task when the queue is empty, and exit once Stopping() holds and the
// idle task itself has terminated.
//
// slot identifies this worker for pin-affinity purposes (the "thread" field
// of a scheduled entry); it is assigned by Start/Call at spawn time, since
// Go goroutines have no stable, externally predictable identity to pin
// against the way the original pins against pthread ids.
func (s *Scheduler) run(slot int) {
	ws := currentWorker()
	ws.sched = s
	ws.workerSlot = slot
	log.Debug().Log("worker loop starting")

	idleFiber := fiber.New(s.idleBody)
	cbFiber := fiber.New(nil)

	for {
		var (
			toRun      *entry
			tickleSelf bool
		)

		s.mu.Lock()
		for e := s.queue.Front(); e != nil; e = e.Next() {
			it := e.Value.(*entry)
			if it.thread != AnyThread && it.thread != slot {
				tickleSelf = true
				continue
			}
			if it.fiber != nil && it.fiber.GetState() == fiber.EXEC {
				continue
			}
			s.queue.Remove(e)
			toRun = it
			break
		}
		s.activeThreadCount.Add(1)
		s.mu.Unlock()

		if tickleSelf && s.hooks != nil {
			s.hooks.Tickle()
		}

		switch {
		case toRun != nil && toRun.fiber != nil:
			if toRun.fiber.GetState() != fiber.TERM && toRun.fiber.GetState() != fiber.EXCEPT {
				toRun.fiber.SwapIn()
				s.activeThreadCount.Add(-1)
				switch toRun.fiber.GetState() {
				case fiber.READY:
					s.Schedule(toRun.fiber, AnyThread)
				case fiber.TERM, fiber.EXCEPT:
					// drop
				default:
					// HOLD: some external waiter (reactor/timer) will
					// reschedule it later.
				}
			} else {
				s.activeThreadCount.Add(-1)
			}

		case toRun != nil && toRun.cb != nil:
			// One callback fiber lives for the whole life of this worker and
			// is recycled via Reset between dispatches, per the scheduler's
			// one-task-per-worker callback design. If it's still suspended
			// from a prior dispatch that itself blocked (e.g. a callback
			// that did I/O and is now HOLD, parked for a reactor wakeup),
			// Reset's precondition doesn't hold, so fall back to a one-shot
			// fiber rather than stomp on the in-flight one.
			toWake := cbFiber
			switch cbFiber.GetState() {
			case fiber.INIT, fiber.TERM, fiber.EXCEPT:
				cbFiber.Reset(toRun.cb)
			default:
				toWake = fiber.New(toRun.cb)
			}
			toWake.SwapIn()
			s.activeThreadCount.Add(-1)
			if toWake.GetState() == fiber.READY {
				s.Schedule(toWake, AnyThread)
			}

		default:
			s.activeThreadCount.Add(-1)
			if idleFiber.GetState() == fiber.TERM {
				log.Debug().Log("idle fiber terminated, worker exiting")
				return
			}
			s.idleThreadCount.Add(1)
			idleFiber.SwapIn()
			s.idleThreadCount.Add(-1)
		}
	}
}

// idleBody is the base idle task: busy-yield until the scheduler stops.
// Overridden in practice by the reactor, whose Idle() hook blocks in
// epoll_wait instead of spinning.
func (s *Scheduler) idleBody() {
	if s.hooks != nil {
		// Idle is expected to loop internally (e.g. epoll_wait) and yield
		// via fiber.YieldToHold at each iteration, returning only once the
		// scheduler is stopping and has no remaining pending work.
		s.hooks.Idle()
		return
	}
	for !s.Stopping() {
		fiber.YieldToHold()
	}
}
