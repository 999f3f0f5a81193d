package fiber

import (
	"testing"
)

func TestFiberRunsAndTerminates(t *testing.T) {
	EnsureMain()

	ran := false
	f := New(func() {
		ran = true
	})

	if f.GetState() != INIT {
		t.Fatalf("expected INIT, got %v", f.GetState())
	}

	f.SwapIn()

	if !ran {
		t.Fatal("fiber body did not run")
	}
	if f.GetState() != TERM {
		t.Fatalf("expected TERM, got %v", f.GetState())
	}
}

func TestFiberYieldToHoldAndResume(t *testing.T) {
	EnsureMain()

	order := make([]string, 0, 4)
	f := New(func() {
		order = append(order, "a")
		YieldToHold()
		order = append(order, "b")
	})

	f.SwapIn()
	order = append(order, "middle")
	if f.GetState() != HOLD {
		t.Fatalf("expected HOLD after first yield, got %v", f.GetState())
	}

	f.SwapIn()
	if f.GetState() != TERM {
		t.Fatalf("expected TERM, got %v", f.GetState())
	}

	want := []string{"a", "middle", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestFiberPanicBecomesExcept(t *testing.T) {
	EnsureMain()

	f := New(func() {
		panic("boom")
	})
	f.SwapIn()

	if f.GetState() != EXCEPT {
		t.Fatalf("expected EXCEPT, got %v", f.GetState())
	}
}

func TestTotalFibersDecreasesOnTerminate(t *testing.T) {
	EnsureMain()

	before := TotalFibers()
	f := New(func() {})
	if TotalFibers() != before+1 {
		t.Fatalf("expected total fibers to increase by 1")
	}
	f.SwapIn()
	if TotalFibers() != before {
		t.Fatalf("expected total fibers to return to baseline after terminate")
	}
}
