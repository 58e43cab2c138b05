package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/session"
	"gmailfarm-bot/internal/settings"
	"gmailfarm-bot/internal/task"
	"gmailfarm-bot/internal/withdraw"
)

func (b *Bot) registerUserRoutes() {
	r := b.router
	r.Menu("start", b.handleStart)
	r.Menu("help", b.handleHelp)
	r.Menu("menu", b.handleMenu)
	r.Menu("cancel", b.handleCancel)
	r.Menu("account", b.handleAccount)
	r.Menu("task", b.handleTask)
	r.Menu("bonus", b.handleBonus)
	r.Menu("leaderboard", b.handleLeaderboard)
	r.Menu("notice", b.handleNotice)
	r.Menu("referral", b.handleReferral)
	r.Menu("vip", b.handleVIP)
	r.Menu("history", b.handleHistory)
	r.Menu("withdraw", b.handleWithdraw)
	r.Menu("support", b.handleSupport)
	r.Menu("sell", b.handleSell)

	r.Action("check_login", b.handleCheckLogin)
	r.Action("submit_proof", b.handleSubmitProof)
	r.Action("wd_method", b.handleWithdrawMethod)

	r.State(session.AwaitingProof, KindPhoto, b.handleProofPhoto)
	r.State(session.AwaitingProof, KindText, reply("Please send the screenshot as a photo, or /cancel."))
	r.State(session.WithdrawAmount, KindText, b.handleWithdrawAmount)
	r.State(session.WithdrawMethod, KindText, reply("Choose a method with the buttons above, or /cancel."))
	r.State(session.WithdrawDest, KindText, b.handleWithdrawDestination)
	r.State(session.SupportMessage, KindText, b.handleSupportMessage)
	r.State(session.ResaleAddress, KindText, b.handleResaleStep)
	r.State(session.ResalePassword, KindText, b.handleResaleStep)
	r.State(session.ResaleRecovery, KindText, b.handleResaleStep)

	r.Fallback(reply("Use the menu buttons below, or /help."))
}

// reply returns a handler that always answers with text.
func reply(text string) HandlerFunc {
	return func(context.Context, *Input, *session.Session) ([]Reply, error) {
		return []Reply{{Text: text}}, nil
	}
}

func text(format string, args ...any) []Reply {
	return []Reply{{Text: fmt.Sprintf(format, args...)}}
}

func tk(d decimal.Decimal) string {
	return d.StringFixed(2) + " TK"
}

func (b *Bot) handleStart(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	var referrer int64
	if arg := strings.TrimPrefix(in.Arg(0), "ref"); arg != "" {
		referrer, _ = strconv.ParseInt(strings.TrimLeft(arg, "_"), 10, 64)
	}
	u, created, err := b.svc.Ledger.CreateIfAbsent(ctx, in.UserID, in.Username, referrer)
	if err != nil {
		return nil, err
	}
	if created && u.ReferrerID != 0 {
		rate, err := b.svc.Ledger.Settings().Decimal(ctx, settings.EarnReferral)
		if err == nil {
			msg := fmt.Sprintf("🎉 %s joined with your link. +%s", u.DisplayName(), tk(rate))
			if err := b.svc.Notifier.User(ctx, u.ReferrerID, msg); err != nil {
				b.log.Warn("referral notice failed", slog.Int64("referrer_id", u.ReferrerID), slog.String("error", err.Error()))
			}
		}
	}
	greeting := "Welcome back, %s!"
	if created {
		greeting = "Welcome, %s! Create Gmail accounts with the credentials we give you and earn TK for each one."
	}
	return []Reply{{Text: fmt.Sprintf(greeting, u.DisplayName()), Markup: mainKeyboard()}}, nil
}

func (b *Bot) handleHelp(context.Context, *Input, *session.Session) ([]Reply, error) {
	return []Reply{{Text: "How it works:\n" +
		"1. Tap Start Work to get an email and password.\n" +
		"2. Create that Gmail account exactly as given.\n" +
		"3. Tap Check Login, or submit a screenshot for manual review.\n" +
		"4. Each verified account pays out to your balance.\n\n" +
		"Invite friends with My Referral, sell your own accounts with Mail Sell and withdraw to bKash, Nagad or Rocket.\n" +
		"Commands: /start /history /cancel /help",
		Markup: mainKeyboard(),
	}}, nil
}

func (b *Bot) handleMenu(context.Context, *Input, *session.Session) ([]Reply, error) {
	return []Reply{{Text: "Main menu", Markup: mainKeyboard()}}, nil
}

func (b *Bot) handleCancel(context.Context, *Input, *session.Session) ([]Reply, error) {
	return []Reply{{Text: "Cancelled.", Markup: mainKeyboard()}}, nil
}

func (b *Bot) handleAccount(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	u, err := b.svc.Ledger.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	vip, err := b.svc.Ledger.IsTop10(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	vipLine := "no"
	if vip {
		vipLine = "yes 👑"
	}
	return text("👤 %s\n"+
		"ID: %d\n"+
		"Balance: %s\n"+
		"Verified accounts: %d\n"+
		"Rank: %s\n"+
		"Task status: %s\n"+
		"Referrals: %d\n"+
		"VIP: %s\n"+
		"Mail sell earnings: %s\n"+
		"Total withdrawn: %s",
		u.DisplayName(), u.ID, tk(u.Balance), u.TaskCycle, ledger.RankFor(u.TaskCycle), u.Status,
		u.ReferralCount, vipLine, tk(u.ResaleEarnings), tk(u.TotalWithdrawn)), nil
}

func (b *Bot) handleTask(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	a, err := b.svc.Tasks.StartTask(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return []Reply{{
		Text: fmt.Sprintf("📝 Task #%d\n\nCreate a Gmail account with:\nEmail: %s\nPassword: %s\n\n"+
			"Then tap Check Login. If the check fails, submit a screenshot for manual review.",
			a.Cycle, a.Email, a.Password),
		Markup: taskKeyboard(),
	}}, nil
}

func (b *Bot) handleCheckLogin(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	res, err := b.svc.Tasks.CheckLogin(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case task.Verified:
		msg := fmt.Sprintf("✅ Verified! +%s", tk(res.Earned))
		if res.VIPBonus.IsPositive() {
			msg += fmt.Sprintf(" (VIP bonus %s)", tk(res.VIPBonus))
		}
		msg += fmt.Sprintf("\nBalance: %s", tk(res.Balance))
		return []Reply{{Text: msg, Markup: mainKeyboard()}}, nil
	case task.AlreadyVerified:
		return text("This task is already verified. Tap Start Work for the next one."), nil
	case task.LoginRejected:
		return []Reply{{Text: "❌ Login failed: " + res.Reason + "\nCheck the account and try again, or submit a screenshot.", Markup: taskKeyboard()}}, nil
	default:
		return []Reply{{Text: "⏳ Gmail is not answering right now. Try again in a minute, or submit a screenshot.", Markup: taskKeyboard()}}, nil
	}
}

func (b *Bot) handleSubmitProof(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	u, err := b.svc.Ledger.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if u.Banned {
		return nil, ledger.ErrBanned
	}
	if u.Status == models.StatusVerified {
		return text("This task is already verified. Tap Start Work for the next one."), nil
	}
	if err := b.svc.Sessions.Save(ctx, &session.Session{UserID: in.UserID, State: session.AwaitingProof}); err != nil {
		return nil, err
	}
	return text("📸 Send a screenshot of the signed-in account."), nil
}

func (b *Bot) handleProofPhoto(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	if err := b.svc.Tasks.SubmitProof(ctx, in.UserID, in.PhotoID); err != nil {
		return nil, err
	}
	if err := b.svc.Sessions.Clear(ctx, in.UserID); err != nil {
		return nil, err
	}
	return []Reply{{Text: "📨 Proof received. An admin will review it soon.", Markup: mainKeyboard()}}, nil
}

func (b *Bot) handleBonus(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	amount, balance, err := b.svc.Ledger.ClaimDailyBonus(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return text("🎁 +%s daily bonus. Balance: %s", tk(amount), tk(balance)), nil
}

func (b *Bot) handleLeaderboard(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	entries, err := b.svc.Ledger.Leaderboard(ctx, 10)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return text("No farmers yet."), nil
	}
	var sb strings.Builder
	sb.WriteString("🏆 Top farmers\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "\n%d. %s: %s, %d referrals", i+1, e.DisplayName, tk(e.Balance), e.ReferralCount)
	}
	return text("%s", sb.String()), nil
}

func (b *Bot) handleNotice(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	notice, err := b.svc.Ledger.Settings().Get(ctx, settings.Notice)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(notice) == "" {
		notice = "No announcements right now."
	}
	return text("📢 %s", notice), nil
}

func (b *Bot) handleReferral(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	if _, err := b.svc.Ledger.Get(ctx, in.UserID); err != nil {
		return nil, err
	}
	count, earned, err := b.svc.Ledger.ReferralSummary(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	rate, err := b.svc.Ledger.Settings().Decimal(ctx, settings.EarnReferral)
	if err != nil {
		return nil, err
	}
	return text("🤝 Invite friends and earn %s when they join and again when they verify their first account.\n\n"+
		"Invited: %d\nEarned: %s\n\nYour link:\nhttps://t.me/%s?start=%d",
		tk(rate), count, tk(earned), b.username, in.UserID), nil
}

func (b *Bot) handleVIP(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	vip, err := b.svc.Ledger.IsTop10(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	bonus, err := b.svc.Ledger.VIPBonusRate(ctx)
	if err != nil {
		return nil, err
	}
	minimum, err := b.svc.Ledger.MinWithdraw(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	status := "You are not in the top 10 yet. Climb the leaderboard to unlock VIP."
	if vip {
		status = "👑 You are VIP."
	}
	return text("%s\n\nVIP perks:\n• +%s on every verified account\n• Lower withdrawal minimum\n\nYour current minimum: %s",
		status, tk(bonus), tk(minimum)), nil
}

func (b *Bot) handleHistory(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	reqs, err := b.svc.Withdrawals.History(ctx, in.UserID, 10)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return text("No withdrawals yet."), nil
	}
	var sb strings.Builder
	sb.WriteString("💸 Recent withdrawals\n")
	for _, r := range reqs {
		fmt.Fprintf(&sb, "\n#%d %s via %s: %s (%s)", r.ID, tk(r.Amount), methodTitle(r.Method), r.Status, r.RequestedAt.Format("02 Jan 15:04"))
	}
	return text("%s", sb.String()), nil
}

func (b *Bot) handleWithdraw(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	u, err := b.svc.Ledger.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if u.Banned {
		return nil, ledger.ErrBanned
	}
	enabled, err := b.svc.Ledger.Settings().Bool(ctx, settings.WithdrawalsEnabled)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return text("Withdrawals are paused right now."), nil
	}
	minimum, err := b.svc.Ledger.MinWithdraw(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if err := b.svc.Sessions.Save(ctx, &session.Session{UserID: in.UserID, State: session.WithdrawAmount}); err != nil {
		return nil, err
	}
	return text("💸 Balance: %s\nMinimum: %s\n\nSend the amount to withdraw.", tk(u.Balance), tk(minimum)), nil
}

func (b *Bot) handleWithdrawAmount(ctx context.Context, in *Input, sess *session.Session) ([]Reply, error) {
	amount, err := withdraw.ParseAmount(in.Text)
	if err != nil {
		return nil, err
	}
	minimum, err := b.svc.Ledger.MinWithdraw(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(minimum) {
		return nil, ledger.Invalid("amount", fmt.Sprintf("the minimum withdrawal is %s", tk(minimum)))
	}
	sess.Withdraw = session.WithdrawDraft{Amount: amount.StringFixed(2)}
	sess.State = session.WithdrawMethod
	if err := b.svc.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return []Reply{{Text: fmt.Sprintf("Withdraw %s. Choose a method:", tk(amount)), Markup: methodKeyboard()}}, nil
}

func (b *Bot) handleWithdrawMethod(ctx context.Context, in *Input, sess *session.Session) ([]Reply, error) {
	if sess.State != session.WithdrawMethod {
		return text("This button has expired. Tap Withdraw to start again."), nil
	}
	method := in.Arg(0)
	if !slices.Contains(withdraw.Methods, method) {
		return nil, ledger.Invalid("method", "choose bKash, Nagad or Rocket")
	}
	sess.Withdraw.Method = method
	sess.State = session.WithdrawDest
	if err := b.svc.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return text("Send your %s number (e.g. 01712345678).", methodTitle(method)), nil
}

func (b *Bot) handleWithdrawDestination(ctx context.Context, in *Input, sess *session.Session) ([]Reply, error) {
	amount, err := decimal.NewFromString(sess.Withdraw.Amount)
	if err != nil {
		_ = b.svc.Sessions.Clear(ctx, in.UserID)
		return nil, ledger.Invalid("amount", "the withdrawal expired, start again")
	}
	req, err := b.svc.Withdrawals.Request(ctx, in.UserID, amount, sess.Withdraw.Method, in.Text)
	if err != nil {
		var ve *ledger.ValidationError
		if errors.As(err, &ve) && ve.Field == "destination" {
			return nil, err
		}
		if errors.Is(err, ledger.ErrBusy) {
			return nil, err
		}
		if cerr := b.svc.Sessions.Clear(ctx, in.UserID); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	if err := b.svc.Sessions.Clear(ctx, in.UserID); err != nil {
		return nil, err
	}
	return []Reply{{
		Text: fmt.Sprintf("✅ Request #%d: %s via %s to %s is pending. You will be notified when it is paid.",
			req.ID, tk(req.Amount), methodTitle(req.Method), req.Destination),
		Markup: mainKeyboard(),
	}}, nil
}

func (b *Bot) handleSupport(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	if err := b.svc.Sessions.Save(ctx, &session.Session{UserID: in.UserID, State: session.SupportMessage}); err != nil {
		return nil, err
	}
	return text("🆘 Describe your problem in one message. /cancel to go back."), nil
}

func (b *Bot) handleSupportMessage(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	t, err := b.svc.Support.Open(ctx, in.UserID, in.Text)
	if err != nil {
		return nil, err
	}
	if err := b.svc.Sessions.Clear(ctx, in.UserID); err != nil {
		return nil, err
	}
	return []Reply{{Text: fmt.Sprintf("📨 Ticket #%d opened. We will reply here.", t.ID), Markup: mainKeyboard()}}, nil
}

func (b *Bot) handleSell(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	rate, err := b.svc.Ledger.Settings().Decimal(ctx, settings.EarnMailSell)
	if err != nil {
		return nil, err
	}
	r, err := b.svc.Intake.Begin(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return text("📧 We buy working Gmail accounts for %s each.\n\n%s\n/cancel to stop.", tk(rate), r.Prompt), nil
}

func (b *Bot) handleResaleStep(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	r, err := b.svc.Intake.Handle(ctx, in.UserID, in.Text)
	if err != nil {
		return nil, err
	}
	out := Reply{Text: r.Prompt}
	if r.State == session.Idle {
		out.Markup = mainKeyboard()
	}
	return []Reply{out}, nil
}
