package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"gmailfarm-bot/internal/config"
	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/notify"
	"gmailfarm-bot/internal/resale"
	"gmailfarm-bot/internal/session"
	"gmailfarm-bot/internal/support"
	"gmailfarm-bot/internal/task"
	"gmailfarm-bot/internal/withdraw"
)

// Services are the core operations the chat front end calls into.
type Services struct {
	Ledger      *ledger.Store
	Tasks       *task.Service
	Resale      *resale.Service
	Intake      *resale.Intake
	Withdrawals *withdraw.Service
	Support     *support.Service
	Sessions    *session.Store
	Notifier    notify.Notifier
}

type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

type Bot struct {
	Instance *telego.Bot
	api      botAPI
	svc      Services
	cfg      *config.Config
	router   *Router
	username string
	log      *slog.Logger

	broadcastPace time.Duration
}

// NewBot wraps a telegram client. The same client is usually shared with
// the notifier.
func NewBot(instance *telego.Bot, svc Services, cfg *config.Config, log *slog.Logger) *Bot {
	b := newBot(instance, svc, cfg, log)
	b.Instance = instance
	return b
}

func newBot(api botAPI, svc Services, cfg *config.Config, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	b := &Bot{
		api:           api,
		svc:           svc,
		cfg:           cfg,
		username:      "gmailfarm_bot",
		log:           log,
		broadcastPace: 50 * time.Millisecond,
	}
	b.router = NewRouter(svc.Sessions, cfg.IsAdmin)
	b.registerUserRoutes()
	b.registerAdminRoutes()
	return b
}

// Run long-polls updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.Instance == nil {
		return fmt.Errorf("bot has no telegram client")
	}
	if me, err := b.Instance.GetMe(ctx); err == nil {
		b.username = me.Username
	}

	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}
	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create update handler: %w", err)
	}

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		b.HandleUpdate(ctx.Context(), update)
		return nil
	}, th.AnyMessage())
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		b.HandleUpdate(ctx.Context(), update)
		return nil
	}, th.AnyCallbackQuery())

	go func() {
		<-ctx.Done()
		handler.Stop()
	}()

	b.log.Info("bot started", slog.String("username", b.username))
	handler.Start()
	return nil
}

// HandleUpdate routes one update and sends the replies. Failures are shown
// to the user as a short reason.
func (b *Bot) HandleUpdate(ctx context.Context, update telego.Update) {
	in, ok := parseUpdate(update)
	if !ok {
		return
	}
	if in.CallbackID != "" {
		if err := b.api.AnswerCallbackQuery(ctx, tu.CallbackQuery(in.CallbackID)); err != nil {
			b.log.Debug("callback not answered", slog.String("error", err.Error()))
		}
	}

	replies, err := b.router.Dispatch(ctx, in)
	if err != nil {
		if !ledger.IsDomain(err) {
			b.log.Error("update failed",
				slog.Int64("user_id", in.UserID),
				slog.String("action", in.Action),
				slog.String("error", err.Error()),
			)
		}
		replies = append(replies, Reply{Text: "❌ " + ledger.UserMessage(err)})
	}
	for _, r := range replies {
		if r.ChatID == 0 {
			r.ChatID = in.ChatID
		}
		b.send(ctx, r)
	}
}

func (b *Bot) send(ctx context.Context, r Reply) {
	var err error
	if r.PhotoID != "" {
		params := tu.Photo(tu.ID(r.ChatID), tu.FileFromID(r.PhotoID)).WithCaption(r.Text)
		if r.Markup != nil {
			params = params.WithReplyMarkup(r.Markup)
		}
		_, err = b.api.SendPhoto(ctx, params)
	} else {
		params := tu.Message(tu.ID(r.ChatID), r.Text)
		if r.Markup != nil {
			params = params.WithReplyMarkup(r.Markup)
		}
		_, err = b.api.SendMessage(ctx, params)
	}
	if err != nil {
		b.log.Warn("send failed", slog.Int64("chat_id", r.ChatID), slog.String("error", err.Error()))
	}
}

// parseUpdate reduces a message or callback query to an Input. Other update
// types are ignored.
func parseUpdate(update telego.Update) (*Input, bool) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		action, arg, _ := strings.Cut(cb.Data, ":")
		in := &Input{
			UserID:     cb.From.ID,
			ChatID:     cb.From.ID,
			Username:   displayName(cb.From),
			Kind:       KindCallback,
			Action:     action,
			CallbackID: cb.ID,
			Text:       cb.Data,
		}
		if arg != "" {
			in.Args = []string{arg}
		}
		return in, true

	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		in := &Input{
			UserID:   msg.From.ID,
			ChatID:   msg.Chat.ID,
			Username: displayName(*msg.From),
		}
		switch {
		case len(msg.Photo) > 0:
			in.Kind = KindPhoto
			in.PhotoID = msg.Photo[len(msg.Photo)-1].FileID
			in.Text = msg.Caption
		case strings.HasPrefix(msg.Text, "/"):
			fields := strings.Fields(msg.Text)
			name, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
			in.Kind = KindCommand
			in.Action = strings.ToLower(name)
			in.Args = fields[1:]
			in.Text = msg.Text
		case msg.Text != "":
			in.Kind = KindText
			in.Text = msg.Text
			in.Action = labelActions[strings.TrimSpace(msg.Text)]
		default:
			return nil, false
		}
		return in, true
	}
	return nil, false
}

func displayName(u telego.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
