package fiber

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// threadLocalStore approximates the original's __thread-qualified
// t_fiber/t_threadFiber globals. Go gives no portable way to key state off
// the calling OS thread or goroutine without runtime internals, so this
// keys off the goroutine id parsed from runtime.Stack, the same trick the
// eventloop package uses (getGoroutineID) to detect "am I running on the
// loop's own goroutine". Looked up once per SwapIn/SwapOut pair, never in a
// hot per-byte loop, so the text-parse cost is immaterial.
type threadLocalStore struct {
	mu   sync.Mutex
	data map[uint64]*perThread
}

func newThreadLocalStore() *threadLocalStore {
	return &threadLocalStore{data: make(map[uint64]*perThread)}
}

func (s *threadLocalStore) get() *perThread {
	id := goroutineID()
	s.mu.Lock()
	defer s.mu.Unlock()
	pt, ok := s.data[id]
	if !ok {
		pt = &perThread{}
		s.data[id] = pt
	}
	return pt
}

// GID exposes goroutineID for other packages in this module (scheduler,
// reactor) that need the same "which worker am I" keying without
// duplicating the runtime.Stack parse.
func GID() uint64 { return goroutineID() }

// goroutineID parses the numeric id out of "goroutine 123 [running]:"" at
// the top of a runtime.Stack dump for the calling goroutine only.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
