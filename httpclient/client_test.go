package httpclient

import (
	"fmt"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lijianran/ljrserver/httpserver"
	"github.com/lijianran/ljrserver/internal/netaddr"
	"github.com/lijianran/ljrserver/reactor"
)

func TestDoRoundTrip(t *testing.T) {
	r, err := reactor.New(2, false, "httpclienttest")
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	r.Start()
	defer func() {
		r.Stop()
		r.Close()
	}()

	srv := httpserver.New("hello", r, nil)
	srv.Dispatch.HandleFunc("/hello", func(req *httpserver.Request, resp *httpserver.Response, sess *httpserver.Session) error {
		resp.SetBody([]byte("hello, " + req.Query))
		return nil
	})

	addr, err := netaddr.ParseIPv4("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}
	if err := srv.Bind(addr); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	sa, err := unix.Getsockname(srv.ListenerAddr(0))
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port

	srv.Start()
	defer srv.Stop()

	time.Sleep(50 * time.Millisecond)

	result := Do(fmt.Sprintf("127.0.0.1:%d", port), Request{Method: "GET", Path: "/hello?world"})
	if result.Err != ErrNone {
		t.Fatalf("Do failed: %v (%v)", result.Err, result.Underlying)
	}
	if result.Status != 200 {
		t.Fatalf("status = %d, want 200", result.Status)
	}
	if string(result.Body) != "hello, world" {
		t.Fatalf("body = %q, want %q", result.Body, "hello, world")
	}
}
