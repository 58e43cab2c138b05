package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/shopspring/decimal"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/session"
	"gmailfarm-bot/internal/settings"
	"gmailfarm-bot/internal/withdraw"
)

const adminListLimit = 10

func (b *Bot) registerAdminRoutes() {
	r := b.router
	r.Admin("admin", b.handleAdminPanel)
	r.Admin("adm_stats", b.handleStats)
	r.Admin("adm_reviews", b.handleReviews)
	r.Admin("adm_payouts", b.handlePayouts)
	r.Admin("adm_tickets", b.handleTickets)
	r.Admin("adm_rates", b.handleRates)
	r.Admin("adm_sales", b.handleSales)
	r.Admin("adm_export", b.handleExport)
	r.Admin("adm_broadcast", b.handleBroadcastStart)
	r.Admin("adm_ban", reply("/ban <user id> [reason]\n/unban <user id>\n/addbal <user id> <amount> (negative to deduct)\n/purge removes synthetic users"))

	r.Admin("approve", b.handleApprove)
	r.Admin("reject", b.handleRejectStart)
	r.Admin("pay", b.handlePay)
	r.Admin("deny", b.handleDeny)
	r.Admin("reply", b.handleTicketStart)
	r.Admin("set", b.handleSettingStart)
	r.Admin("sale_ok", b.handleSaleApprove)
	r.Admin("sale_no", b.handleSaleReject)

	r.Admin("ban", b.handleBan)
	r.Admin("unban", b.handleUnban)
	r.Admin("addbal", b.handleAddBalance)
	r.Admin("purge", b.handlePurge)

	r.State(session.AdminRejectReason, KindText, b.handleRejectReason)
	r.State(session.AdminTicketReply, KindText, b.handleTicketReply)
	r.State(session.AdminSettingValue, KindText, b.handleSettingValue)
	r.State(session.AdminBroadcast, KindText, b.handleBroadcast)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, ledger.Invalid("id", "expected a numeric id")
	}
	return id, nil
}

func parseRecordID(raw string) (uint, error) {
	id, err := parseID(raw)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func (b *Bot) handleAdminPanel(context.Context, *Input, *session.Session) ([]Reply, error) {
	return []Reply{{Text: "🛠 Admin panel", Markup: adminKeyboard()}}, nil
}

func (b *Bot) handleStats(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	st, err := b.svc.Ledger.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return text("📊 Stats\n\n"+
		"Users: %d (banned %d)\n"+
		"Verified: %d\n"+
		"Proofs under review: %d\n"+
		"Total balance: %s\n"+
		"Total withdrawn: %s\n"+
		"Pending withdrawals: %d (%s)\n"+
		"Sold accounts: %d (%s paid)",
		st.Users, st.Banned, st.Verified, st.PendingReview,
		tk(st.TotalBalance), tk(st.TotalWithdrawn),
		st.PendingWithdrawals, tk(st.PendingAmount),
		st.SoldCredentials, tk(st.ResalePaid)), nil
}

func (b *Bot) handleReviews(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	users, err := b.svc.Tasks.PendingReviews(ctx, adminListLimit)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return text("No proofs waiting."), nil
	}
	out := make([]Reply, 0, len(users))
	for _, u := range users {
		out = append(out, Reply{
			Text:    fmt.Sprintf("%s (id %d)\nEmail: %s\nPassword: %s\nRejected so far: %d", u.DisplayName(), u.ID, u.Email, u.Password, u.RejectedCount),
			PhotoID: u.ProofRef,
			Markup:  decisionKeyboard("✅ Approve", "approve", "❌ Reject", "reject", u.ID),
		})
	}
	return out, nil
}

func (b *Bot) handleApprove(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	res, err := b.svc.Tasks.ApproveProof(ctx, id)
	if err != nil {
		return nil, err
	}
	return text("✅ User %d verified: +%s, balance %s.", id, tk(res.Earned.Add(res.VIPBonus)), tk(res.Balance)), nil
}

func (b *Bot) handleRejectStart(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	sess := &session.Session{UserID: in.UserID, State: session.AdminRejectReason, Admin: session.AdminDraft{TargetID: id}}
	if err := b.svc.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return text("Send the rejection reason for user %d, or /skip.", id), nil
}

func (b *Bot) handleRejectReason(ctx context.Context, in *Input, sess *session.Session) ([]Reply, error) {
	reason := strings.TrimSpace(in.Text)
	if reason == "/skip" {
		reason = ""
	}
	target := sess.Admin.TargetID
	if err := b.svc.Sessions.Clear(ctx, in.UserID); err != nil {
		return nil, err
	}
	banned, err := b.svc.Tasks.RejectProof(ctx, target, reason)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("❌ Proof of user %d rejected.", target)
	if banned {
		msg += " The user reached the rejection limit and was banned."
	}
	return text("%s", msg), nil
}

func (b *Bot) handlePayouts(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	reqs, err := b.svc.Withdrawals.Pending(ctx, adminListLimit)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return text("No pending withdrawals."), nil
	}
	out := make([]Reply, 0, len(reqs))
	for _, r := range reqs {
		line := fmt.Sprintf("#%d user %d: %s via %s to %s\nRequested %s, retries %d",
			r.ID, r.UserID, tk(r.Amount), methodTitle(r.Method), r.Destination,
			r.RequestedAt.Format("02 Jan 15:04"), r.RetryCount)
		if r.AutoPayment {
			line += "\nSubmitted to the provider, waiting for confirmation."
		}
		out = append(out, Reply{Text: line, Markup: decisionKeyboard("✅ Paid", "pay", "❌ Reject", "deny", r.ID)})
	}
	return out, nil
}

func (b *Bot) handlePay(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseRecordID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	req, err := b.svc.Withdrawals.Resolve(ctx, id, withdraw.Resolution{
		Outcome: withdraw.Paid,
		Note:    fmt.Sprintf("paid manually by admin %d", in.UserID),
	})
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return text("❌ #%d rejected: user %d no longer has enough balance.", id, req.UserID), nil
	}
	if err != nil {
		return nil, err
	}
	return text("✅ #%d marked paid: %s to %s.", req.ID, tk(req.Amount), req.Destination), nil
}

func (b *Bot) handleDeny(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseRecordID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	req, err := b.svc.Withdrawals.Resolve(ctx, id, withdraw.Resolution{
		Outcome: withdraw.Failed,
		Note:    fmt.Sprintf("rejected by admin %d", in.UserID),
	})
	if err != nil {
		return nil, err
	}
	return text("❌ #%d rejected. Balance of user %d untouched.", req.ID, req.UserID), nil
}

func (b *Bot) handleTickets(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	tickets, err := b.svc.Support.ListOpen(ctx, adminListLimit)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return text("No open tickets."), nil
	}
	out := make([]Reply, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, Reply{
			Text:   fmt.Sprintf("Ticket #%d from %d:\n%s", t.ID, t.UserID, t.Message),
			Markup: tu.InlineKeyboard(tu.InlineKeyboardRow(tu.InlineKeyboardButton("✉️ Reply").WithCallbackData(fmt.Sprintf("reply:%d", t.ID)))),
		})
	}
	return out, nil
}

func (b *Bot) handleTicketStart(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	sess := &session.Session{UserID: in.UserID, State: session.AdminTicketReply, Admin: session.AdminDraft{TargetID: id}}
	if err := b.svc.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return text("Send the reply for ticket #%d.", id), nil
}

func (b *Bot) handleTicketReply(ctx context.Context, in *Input, sess *session.Session) ([]Reply, error) {
	t, err := b.svc.Support.Reply(ctx, uint(sess.Admin.TargetID), in.UserID, in.Text)
	if err != nil {
		var ve *ledger.ValidationError
		if errors.As(err, &ve) && ve.Field == "reply" {
			return nil, err
		}
		_ = b.svc.Sessions.Clear(ctx, in.UserID)
		return nil, err
	}
	if err := b.svc.Sessions.Clear(ctx, in.UserID); err != nil {
		return nil, err
	}
	return text("✉️ Ticket #%d answered and closed.", t.ID), nil
}

func (b *Bot) handleRates(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	all, err := b.svc.Ledger.Settings().All(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("⚙️ Settings\n")
	rows := make([][]telego.InlineKeyboardButton, 0, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%s = %s", k, all[k])
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton("✏️ "+k).WithCallbackData("set:"+k)))
	}
	return []Reply{{Text: sb.String(), Markup: tu.InlineKeyboard(rows...)}}, nil
}

func (b *Bot) handleSettingStart(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	key := in.Arg(0)
	if _, ok := settings.Defaults[key]; !ok {
		return nil, ledger.Invalid("setting", "unknown setting")
	}
	sess := &session.Session{UserID: in.UserID, State: session.AdminSettingValue, Admin: session.AdminDraft{Key: key}}
	if err := b.svc.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return text("Send the new value for %s.", key), nil
}

func (b *Bot) handleSettingValue(ctx context.Context, in *Input, sess *session.Session) ([]Reply, error) {
	key := sess.Admin.Key
	value := strings.TrimSpace(in.Text)
	if err := b.svc.Ledger.Settings().Set(ctx, key, value); err != nil {
		if errors.Is(err, settings.ErrInvalidValue) || errors.Is(err, settings.ErrUnknownKey) {
			return nil, ledger.Invalid(key, err.Error())
		}
		return nil, err
	}
	if err := b.svc.Sessions.Clear(ctx, in.UserID); err != nil {
		return nil, err
	}
	b.log.Info("setting changed", slog.Int64("admin_id", in.UserID), slog.String("key", key), slog.String("value", value))
	return text("✅ %s = %s", key, value), nil
}

func (b *Bot) handleSales(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	recs, err := b.svc.Resale.List(ctx, models.SaleUnderReview, adminListLimit)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return text("No sold accounts waiting for review."), nil
	}
	out := make([]Reply, 0, len(recs))
	for _, r := range recs {
		recovery := r.Recovery
		if recovery == "" {
			recovery = "none"
		}
		out = append(out, Reply{
			Text: fmt.Sprintf("Sale #%d from %s (id %d)\n%s\nPassword: %s\nRecovery: %s",
				r.ID, r.SellerUsername, r.SellerID, r.Address, r.Password, recovery),
			Markup: decisionKeyboard("✅ Approve", "sale_ok", "❌ Reject", "sale_no", r.ID),
		})
	}
	return out, nil
}

func (b *Bot) handleSaleApprove(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseRecordID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	out, err := b.svc.Resale.Approve(ctx, id, in.UserID)
	if err != nil {
		return nil, err
	}
	return text("✅ Sale #%d approved, seller credited %s.", id, tk(out.Amount)), nil
}

func (b *Bot) handleSaleReject(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseRecordID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	if err := b.svc.Resale.Reject(ctx, id, in.UserID, "rejected after manual check"); err != nil {
		return nil, err
	}
	return text("❌ Sale #%d rejected.", id), nil
}

// handleExport lists verified sold accounts as address:password:recovery lines.
func (b *Bot) handleExport(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	recs, err := b.svc.Resale.List(ctx, models.SaleVerified, 100)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return text("Nothing to export."), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📤 %d verified accounts\n", len(recs))
	for _, r := range recs {
		fmt.Fprintf(&sb, "\n%s:%s:%s", r.Address, r.Password, r.Recovery)
	}
	return text("%s", sb.String()), nil
}

func (b *Bot) handleBan(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	reason := strings.Join(in.Args[1:], " ")
	if reason == "" {
		reason = fmt.Sprintf("banned by admin %d", in.UserID)
	}
	if err := b.svc.Ledger.SetBanned(ctx, id, true, reason); err != nil {
		return nil, err
	}
	return text("🚫 User %d banned.", id), nil
}

func (b *Bot) handleUnban(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	if err := b.svc.Ledger.SetBanned(ctx, id, false, ""); err != nil {
		return nil, err
	}
	return text("✅ User %d unbanned.", id), nil
}

func (b *Bot) handleAddBalance(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	id, err := parseID(in.Arg(0))
	if err != nil {
		return nil, err
	}
	delta, err := decimal.NewFromString(in.Arg(1))
	if err != nil || delta.IsZero() {
		return nil, ledger.Invalid("amount", "usage: /addbal <user id> <amount>")
	}
	balance, err := b.svc.Ledger.AdjustBalance(ctx, id, delta.Round(2), fmt.Sprintf("admin:%d", in.UserID))
	if err != nil {
		return nil, err
	}
	return text("✅ User %d balance: %s", id, tk(balance)), nil
}

func (b *Bot) handlePurge(ctx context.Context, _ *Input, _ *session.Session) ([]Reply, error) {
	if b.cfg.SyntheticIDStart <= 0 {
		return text("Synthetic users are not configured."), nil
	}
	n, err := b.svc.Ledger.PurgeSynthetic(ctx, b.cfg.SyntheticIDStart)
	if err != nil {
		return nil, err
	}
	return text("🧹 Removed %d synthetic users.", n), nil
}

func (b *Bot) handleBroadcastStart(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	if err := b.svc.Sessions.Save(ctx, &session.Session{UserID: in.UserID, State: session.AdminBroadcast}); err != nil {
		return nil, err
	}
	return text("📣 Send the message to broadcast to every active user, or /cancel."), nil
}

func (b *Bot) handleBroadcast(ctx context.Context, in *Input, _ *session.Session) ([]Reply, error) {
	msg := strings.TrimSpace(in.Text)
	if msg == "" {
		return nil, ledger.Invalid("message", "the message is empty")
	}
	ids, err := b.svc.Ledger.ActiveUserIDs(ctx, b.cfg.SyntheticIDStart)
	if err != nil {
		return nil, err
	}
	if err := b.svc.Sessions.Clear(ctx, in.UserID); err != nil {
		return nil, err
	}
	go b.broadcast(context.WithoutCancel(ctx), in.ChatID, ids, msg)
	return text("📣 Sending to %d users...", len(ids)), nil
}

// broadcast sends msg to every id, paced to stay under the API flood limit,
// and reports the totals back to the admin chat.
func (b *Bot) broadcast(ctx context.Context, adminChat int64, ids []int64, msg string) {
	tick := time.NewTicker(b.broadcastPace)
	defer tick.Stop()

	sent, failed := 0, 0
	for _, id := range ids {
		<-tick.C
		if _, err := b.api.SendMessage(ctx, tu.Message(tu.ID(id), msg)); err != nil {
			failed++
			continue
		}
		sent++
	}
	b.log.Info("broadcast finished", slog.Int("sent", sent), slog.Int("failed", failed))
	b.send(ctx, Reply{ChatID: adminChat, Text: fmt.Sprintf("📣 Broadcast done: %d sent, %d failed.", sent, failed)})
}
