// Package worker runs background jobs against the ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/metrics"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/notify"
	"gmailfarm-bot/internal/payment"
	"gmailfarm-bot/internal/settings"
	"gmailfarm-bot/internal/withdraw"
)

const (
	defaultBatch  = 50
	paymentBudget = 30 * time.Second
	alertTTL      = 6 * time.Hour
)

// Summary counts what one ProcessPending run did.
type Summary struct {
	Paid      int
	Failed    int
	Retried   int
	Submitted int
	Skipped   int
}

// Dispatcher pays pending withdrawals through a payment gateway.
type Dispatcher struct {
	store       *ledger.Store
	withdrawals *withdraw.Service
	gateway     payment.Gateway
	notifier    notify.Notifier
	log         *slog.Logger
	batch       int
	running     atomic.Bool
}

func NewDispatcher(store *ledger.Store, withdrawals *withdraw.Service, gateway payment.Gateway, notifier notify.Notifier, log *slog.Logger) *Dispatcher {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		store:       store,
		withdrawals: withdrawals,
		gateway:     gateway,
		notifier:    notifier,
		log:         log,
		batch:       defaultBatch,
	}
}

// ProcessPending handles the oldest pending requests once. Overlapping runs
// are skipped.
func (d *Dispatcher) ProcessPending(ctx context.Context) (Summary, error) {
	var sum Summary
	if !d.running.CompareAndSwap(false, true) {
		d.log.Info("payout run already in progress")
		return sum, nil
	}
	defer d.running.Store(false)

	enabled, err := d.store.Settings().Bool(ctx, settings.AutoPaymentEnabled)
	if err != nil {
		return sum, err
	}
	if !enabled {
		return sum, nil
	}

	pending, err := d.withdrawals.Pending(ctx, d.batch)
	if err != nil {
		return sum, err
	}
	for i := range pending {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		d.process(ctx, &pending[i], &sum)
	}
	if len(pending) > 0 {
		d.log.Info("payout run finished",
			slog.Int("paid", sum.Paid),
			slog.Int("failed", sum.Failed),
			slog.Int("retried", sum.Retried),
			slog.Int("submitted", sum.Submitted),
			slog.Int("skipped", sum.Skipped),
		)
	}
	return sum, nil
}

func (d *Dispatcher) process(ctx context.Context, req *models.WithdrawalRequest, sum *Summary) {
	if req.AutoPayment {
		// Submitted earlier, waiting for the provider callback.
		sum.Skipped++
		return
	}

	u, err := d.store.Get(ctx, req.UserID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		d.resolve(ctx, req, withdraw.Resolution{Outcome: withdraw.Failed, Note: "account no longer exists", Auto: true}, sum)
		return
	case err != nil:
		d.log.Warn("payout skipped", slog.Uint64("request_id", uint64(req.ID)), slog.String("error", err.Error()))
		sum.Skipped++
		return
	}
	if u.Banned {
		d.resolve(ctx, req, withdraw.Resolution{Outcome: withdraw.Failed, Note: "account is banned", Auto: true}, sum)
		return
	}
	if u.Balance.LessThan(req.Amount) {
		d.resolve(ctx, req, withdraw.Resolution{Outcome: withdraw.Failed, Note: "insufficient balance", Auto: true}, sum)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, paymentBudget)
	res, err := d.gateway.SendPayment(pctx, payment.Payout{
		RequestID:   req.ID,
		Attempt:     req.RetryCount,
		Amount:      req.Amount,
		Destination: req.Destination,
		Method:      req.Method,
	})
	cancel()

	switch {
	case err != nil:
		metrics.PaymentDispatchTotal.WithLabelValues("transient").Inc()
		d.resolve(ctx, req, withdraw.Resolution{Outcome: withdraw.Retry, Note: err.Error(), Auto: true}, sum)
	case res.Pending:
		metrics.PaymentDispatchTotal.WithLabelValues("pending").Inc()
		if err := d.withdrawals.MarkSubmitted(ctx, req.ID, res.Message); err != nil {
			d.log.Error("payout submitted but not marked", slog.Uint64("request_id", uint64(req.ID)), slog.String("error", err.Error()))
		}
		sum.Submitted++
	case res.OK:
		metrics.PaymentDispatchTotal.WithLabelValues("ok").Inc()
		d.resolve(ctx, req, withdraw.Resolution{Outcome: withdraw.Paid, TransactionID: res.TransactionID, Note: res.Message, Auto: true}, sum)
	default:
		metrics.PaymentDispatchTotal.WithLabelValues("declined").Inc()
		d.resolve(ctx, req, withdraw.Resolution{Outcome: withdraw.Failed, Note: res.Message, Auto: true}, sum)
	}
}

func (d *Dispatcher) resolve(ctx context.Context, req *models.WithdrawalRequest, res withdraw.Resolution, sum *Summary) {
	out, err := d.withdrawals.Resolve(ctx, req.ID, res)
	if err != nil {
		if res.Outcome == withdraw.Paid {
			// Money left through the gateway but the ledger refused the debit.
			key := fmt.Sprintf("payout-mismatch:%d", req.ID)
			msg := fmt.Sprintf("Withdrawal #%d was paid (%s) but could not be debited: %v", req.ID, res.TransactionID, err)
			if nerr := d.notifier.Once(ctx, key, alertTTL, msg); nerr != nil {
				d.log.Warn("alert not delivered", slog.String("error", nerr.Error()))
			}
		}
		d.log.Error("payout resolution failed", slog.Uint64("request_id", uint64(req.ID)), slog.String("error", err.Error()))
		sum.Skipped++
		return
	}

	switch {
	case out.Status == models.WithdrawalPaid:
		sum.Paid++
	case res.Outcome == withdraw.Retry && out.Status == models.WithdrawalPending:
		sum.Retried++
	default:
		sum.Failed++
		if res.Outcome == withdraw.Retry {
			key := fmt.Sprintf("payout-exhausted:%d", req.ID)
			msg := fmt.Sprintf("Withdrawal #%d was rejected after %d failed payout attempts: %s", req.ID, out.RetryCount, res.Note)
			if nerr := d.notifier.Once(ctx, key, alertTTL, msg); nerr != nil {
				d.log.Warn("alert not delivered", slog.String("error", nerr.Error()))
			}
		}
	}
}
