package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/notify"
	"gmailfarm-bot/internal/utils"
	"gmailfarm-bot/internal/withdraw"
)

// Resolver closes withdrawal requests. *withdraw.Service implements it.
type Resolver interface {
	Resolve(ctx context.Context, requestID uint, res withdraw.Resolution) (*models.WithdrawalRequest, error)
}

const mismatchAlertTTL = 6 * time.Hour

// WebhookHandler accepts payout status callbacks from allow-listed peers.
type WebhookHandler struct {
	resolver Resolver
	allow    utils.AllowList
	notifier notify.Notifier
	log      *slog.Logger
}

func NewWebhookHandler(resolver Resolver, allow utils.AllowList, notifier notify.Notifier, log *slog.Logger) *WebhookHandler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebhookHandler{resolver: resolver, allow: allow, notifier: notifier, log: log}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ip := utils.RemoteIP(r); !h.allow.Contains(ip) {
		h.log.Warn("webhook from unlisted address", slog.String("ip", ip))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var notification WebhookNotification
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&notification); err != nil {
		h.log.Warn("failed to decode webhook", slog.String("error", err.Error()))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	var res withdraw.Resolution
	switch notification.Event {
	case EventPayoutSucceeded:
		res = withdraw.Resolution{Outcome: withdraw.Paid, TransactionID: notification.Object.ID, Note: "provider " + notification.Object.ID, Auto: true}
	case EventPayoutCanceled:
		note := "payout canceled"
		if d := notification.Object.CancellationDetails; d != nil && d.Reason != "" {
			note += ": " + d.Reason
		}
		res = withdraw.Resolution{Outcome: withdraw.Failed, Note: note, Auto: true}
	default:
		h.log.Info("ignored webhook event", slog.String("event", notification.Event))
		w.WriteHeader(http.StatusOK)
		return
	}

	id, err := strconv.ParseUint(notification.Object.Metadata[metaWithdrawalID], 10, 64)
	if err != nil || id == 0 {
		h.log.Warn("webhook without withdrawal id", slog.String("payout_id", notification.Object.ID))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	_, err = h.resolver.Resolve(r.Context(), uint(id), res)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrBusy), errors.Is(err, ledger.ErrInternal):
		h.log.Error("webhook resolution failed", slog.Uint64("request_id", id), slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	case res.Outcome == withdraw.Paid && errors.Is(err, ledger.ErrInsufficientFunds):
		// Money left the wallet but the balance no longer covers it.
		h.log.Error("paid payout could not be debited", slog.Uint64("request_id", id), slog.String("payout_id", notification.Object.ID))
		key := fmt.Sprintf("payout-mismatch:%d", id)
		msg := fmt.Sprintf("Withdrawal #%d was paid (%s) but could not be debited: %v", id, notification.Object.ID, err)
		if nerr := h.notifier.Once(r.Context(), key, mismatchAlertTTL, msg); nerr != nil {
			h.log.Warn("alert not delivered", slog.String("error", nerr.Error()))
		}
	default:
		// Unknown or already closed: nothing for the provider to retry.
		h.log.Warn("webhook not applied", slog.Uint64("request_id", id), slog.String("error", err.Error()))
	}
	w.WriteHeader(http.StatusOK)
}
