// Package notify delivers operator and user notices over Telegram.
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"
)

const dedupPrefix = "notified:"

// Notifier is what the core services use to tell people about state changes.
// Delivery is best effort: callers log a failure and move on.
type Notifier interface {
	Admins(ctx context.Context, text string) error
	User(ctx context.Context, userID int64, text string) error
	// Once sends text to admins unless key was already used within ttl.
	Once(ctx context.Context, key string, ttl time.Duration, text string) error
}

// Nop discards every notice.
type Nop struct{}

func (Nop) Admins(context.Context, string) error                      { return nil }
func (Nop) User(context.Context, int64, string) error                 { return nil }
func (Nop) Once(context.Context, string, time.Duration, string) error { return nil }

// Sender is the part of *telego.Bot the notifier needs.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Telegram posts admin notices to the log channel when one is configured,
// otherwise to every admin id.
type Telegram struct {
	sender  Sender
	admins  []int64
	channel int64
	rdb     *redis.Client
	log     *slog.Logger
}

func NewTelegram(sender Sender, admins []int64, channel int64, rdb *redis.Client, log *slog.Logger) *Telegram {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Telegram{sender: sender, admins: admins, channel: channel, rdb: rdb, log: log}
}

func (t *Telegram) Admins(ctx context.Context, text string) error {
	targets := t.admins
	if t.channel != 0 {
		targets = []int64{t.channel}
	}
	var errs []error
	for _, id := range targets {
		if err := t.send(ctx, id, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) User(ctx context.Context, userID int64, text string) error {
	return t.send(ctx, userID, text)
}

func (t *Telegram) Once(ctx context.Context, key string, ttl time.Duration, text string) error {
	if t.rdb != nil {
		exists, err := t.rdb.Exists(ctx, dedupPrefix+key).Result()
		if err != nil {
			t.log.Warn("notification dedup lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		} else if exists > 0 {
			return nil
		}
	}
	if err := t.Admins(ctx, text); err != nil {
		return err
	}
	if t.rdb != nil {
		if err := t.rdb.Set(ctx, dedupPrefix+key, "1", ttl).Err(); err != nil {
			t.log.Warn("notification dedup store failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	_, err := t.sender.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		t.log.Warn("notification not delivered", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
	}
	return err
}
