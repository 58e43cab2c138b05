package verify

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
)

// imapServer runs an in-memory IMAP server. Its only account is
// "username" / "password".
func imapServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	go s.Serve(ln)
	t.Cleanup(func() { s.Close() })
	return ln.Addr().String()
}

func plainChecker(addr string) *IMAPChecker {
	return &IMAPChecker{Addr: addr, Timeout: 2 * time.Second}
}

func TestIMAPChecker_Success(t *testing.T) {
	addr := imapServer(t)
	res := plainChecker(addr).Check(context.Background(), "username", "password")
	if res.Outcome != Success {
		t.Fatalf("expected success, got %s (%s)", res.Outcome, res.Reason)
	}
}

func TestIMAPChecker_RejectedLogin(t *testing.T) {
	addr := imapServer(t)
	res := plainChecker(addr).Check(context.Background(), "username", "wrongpass")
	if res.Outcome != AuthFailure {
		t.Fatalf("expected auth failure, got %s (%s)", res.Outcome, res.Reason)
	}
	if !strings.Contains(res.Reason, "Bad username or password") {
		t.Fatalf("expected server reason, got %q", res.Reason)
	}
}

func TestIMAPChecker_UnreachableIsTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	res := plainChecker(addr).Check(context.Background(), "someone@gmail.com", "whatever")
	if res.Outcome != TransientError {
		t.Fatalf("expected transient error, got %s", res.Outcome)
	}
}

func TestIMAPChecker_SilentServerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(3 * time.Second)
	}()

	c := &IMAPChecker{Addr: ln.Addr().String(), Timeout: 300 * time.Millisecond}
	start := time.Now()
	res := c.Check(context.Background(), "someone@gmail.com", "whatever")
	if res.Outcome != TransientError {
		t.Fatalf("expected transient error, got %s", res.Outcome)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("check did not honour timeout: %s", time.Since(start))
	}
}

func TestStaticChecker(t *testing.T) {
	res := StaticChecker{Outcome: AuthFailure, Reason: "nope"}.Check(context.Background(), "a", "b")
	if res.Outcome != AuthFailure || res.Reason != "nope" {
		t.Fatalf("unexpected result %+v", res)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := (StaticChecker{}).Check(ctx, "a", "b"); res.Outcome != TransientError {
		t.Fatalf("expected transient on cancelled context, got %s", res.Outcome)
	}
}
