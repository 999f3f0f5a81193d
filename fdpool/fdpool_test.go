package fdpool

import "testing"

func fakeSocketDetector(sockFDs map[int]bool) func(int) bool {
	return func(fd int) bool { return sockFDs[fd] }
}

func TestGetAutoCreateTracksSocketFlag(t *testing.T) {
	m := NewManager(fakeSocketDetector(map[int]bool{5: true}))

	ctx := m.Get(5, true)
	if ctx == nil {
		t.Fatal("expected a Ctx")
	}
	if !ctx.IsSocket() {
		t.Fatal("expected IsSocket to be true")
	}
	if !ctx.SysNonblock() {
		t.Fatal("expected socket fds to start system non-blocking")
	}
}

func TestGetWithoutAutoCreateReturnsNil(t *testing.T) {
	m := NewManager(fakeSocketDetector(nil))
	if m.Get(9, false) != nil {
		t.Fatal("expected nil for untracked fd without autoCreate")
	}
}

func TestGetReturnsSameCtxOnRepeatedCalls(t *testing.T) {
	m := NewManager(fakeSocketDetector(map[int]bool{3: true}))
	a := m.Get(3, true)
	b := m.Get(3, true)
	if a != b {
		t.Fatal("expected the same Ctx instance on repeated Get")
	}
}

func TestTimeouts(t *testing.T) {
	m := NewManager(fakeSocketDetector(map[int]bool{1: true}))
	ctx := m.Get(1, true)

	ctx.SetTimeout(RecvTimeout, 1500)
	ctx.SetTimeout(SendTimeout, 2500)

	if got := ctx.GetTimeout(RecvTimeout); got != 1500 {
		t.Fatalf("recv timeout = %d, want 1500", got)
	}
	if got := ctx.GetTimeout(SendTimeout); got != 2500 {
		t.Fatalf("send timeout = %d, want 2500", got)
	}
}

func TestDelMarksClosedAndRemoves(t *testing.T) {
	m := NewManager(fakeSocketDetector(map[int]bool{2: true}))
	ctx := m.Get(2, true)
	m.Del(2)

	if !ctx.IsClosed() {
		t.Fatal("expected Ctx to be marked closed")
	}
	if m.Get(2, false) != nil {
		t.Fatal("expected fd to be untracked after Del")
	}
}
