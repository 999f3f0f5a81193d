package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFuncRunsOnWorker(t *testing.T) {
	s := New(2, false, "test")
	s.Start()

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	s.ScheduleFunc(func() {
		ran.Store(true)
		wg.Done()
	}, AnyThread)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled callback")
	}

	if !ran.Load() {
		t.Fatal("callback did not run")
	}

	s.Stop()
}

func TestScheduleManyFuncsAllRun(t *testing.T) {
	s := New(4, false, "test")
	s.Start()

	const n = 200
	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		s.ScheduleFunc(func() {
			count.Add(1)
			wg.Done()
		}, AnyThread)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only %d/%d callbacks ran before timeout", count.Load(), n)
	}

	if got := count.Load(); got != n {
		t.Fatalf("count = %d, want %d", got, n)
	}

	s.Stop()
}
