package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mymmrac/telego"
	"github.com/redis/go-redis/v9"
)

type mockSender struct {
	SendFunc func(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	sent     []*telego.SendMessageParams
}

func (m *mockSender) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	m.sent = append(m.sent, params)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, params)
	}
	return &telego.Message{}, nil
}

func TestAdmins_PrefersChannel(t *testing.T) {
	sender := &mockSender{}
	n := NewTelegram(sender, []int64{1, 2}, -100500, nil, nil)

	if err := n.Admins(context.Background(), "hello"); err != nil {
		t.Fatalf("admins: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].ChatID.ID != -100500 {
		t.Fatalf("expected a single post to the channel, got %+v", sender.sent)
	}

	sender.sent = nil
	n = NewTelegram(sender, []int64{1, 2}, 0, nil, nil)
	if err := n.Admins(context.Background(), "hello"); err != nil {
		t.Fatalf("admins: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected one message per admin, got %d", len(sender.sent))
	}
}

func TestAdmins_JoinsErrors(t *testing.T) {
	boom := errors.New("blocked by user")
	sender := &mockSender{SendFunc: func(context.Context, *telego.SendMessageParams) (*telego.Message, error) {
		return nil, boom
	}}
	n := NewTelegram(sender, []int64{1, 2}, 0, nil, nil)
	if err := n.Admins(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
}

func TestOnce_Deduplicates(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sender := &mockSender{}
	n := NewTelegram(sender, []int64{7}, 0, rdb, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := n.Once(ctx, "payout:1", time.Hour, "payout stuck"); err != nil {
			t.Fatalf("once: %v", err)
		}
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sender.sent))
	}

	mr.FastForward(2 * time.Hour)
	if err := n.Once(ctx, "payout:1", time.Hour, "payout stuck"); err != nil {
		t.Fatalf("once after ttl: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected redelivery after ttl, got %d", len(sender.sent))
	}
}
