package config

import "testing"

func TestLookupOrDefineAndLoad(t *testing.T) {
	r := NewRegistry()
	v := LookupOrDefine(r, "tcp.accept.rate_per_sec", 1000, "accept rate limit")

	if v.Value() != 1000 {
		t.Fatalf("default value = %d, want 1000", v.Value())
	}

	var observed []int
	v.AddListener(func(old, new int) { observed = append(observed, new) })

	if err := r.Load([]byte("tcp.accept.rate_per_sec: 500\nunused.key: true\n")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Value() != 500 {
		t.Fatalf("value after load = %d, want 500", v.Value())
	}
	if len(observed) != 1 || observed[0] != 500 {
		t.Fatalf("listener observed %v, want [500]", observed)
	}
}

func TestLookupOrDefineTypeMismatchPanics(t *testing.T) {
	r := NewRegistry()
	LookupOrDefine(r, "log.level", "info", "log level")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on type mismatch")
		}
	}()
	LookupOrDefine(r, "log.level", 1, "log level")
}
