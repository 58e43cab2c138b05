package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(rdb, 0), mr
}

func TestGet_DefaultsToIdle(t *testing.T) {
	s, _ := newTestStore(t)
	sess, err := s.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.State != Idle || sess.UserID != 42 {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestSaveRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	in := &Session{UserID: 7, State: ResaleRecovery, Resale: ResaleDraft{Address: "abcd@gmail.com", Password: "secret1", Review: true}}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := s.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.State != ResaleRecovery || out.Resale != in.Resale {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	mr.FastForward(DefaultTTL + time.Second)
	out, err = s.Get(ctx, 7)
	if err != nil {
		t.Fatalf("get after ttl: %v", err)
	}
	if out.State != Idle {
		t.Fatalf("expected expired session to be idle, got %s", out.State)
	}
}

func TestSaveIdleClears(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	if err := s.Save(ctx, &Session{UserID: 1, State: WithdrawAmount}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, &Session{UserID: 1, State: Idle}); err != nil {
		t.Fatalf("save idle: %v", err)
	}
	if mr.Exists(key(1)) {
		t.Fatalf("expected idle save to delete the key")
	}
}

func TestGet_CorruptEntryResets(t *testing.T) {
	s, mr := newTestStore(t)
	if err := mr.Set(key(3), "{not json"); err != nil {
		t.Fatalf("set: %v", err)
	}
	sess, err := s.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.State != Idle {
		t.Fatalf("expected idle, got %s", sess.State)
	}
}
