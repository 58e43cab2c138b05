// Package resale buys user-supplied Gmail accounts after a live login check.
package resale

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/metrics"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/notify"
	"gmailfarm-bot/internal/settings"
	"gmailfarm-bot/internal/verify"
)

type Outcome struct {
	RecordID   uint
	Amount     decimal.Decimal
	NewBalance decimal.Decimal
	// UnderReview is true when the record awaits an admin decision and
	// nothing has been credited yet.
	UnderReview bool
}

type Service struct {
	store    *ledger.Store
	checker  verify.Checker
	notifier notify.Notifier
	log      *slog.Logger
}

func NewService(store *ledger.Store, checker verify.Checker, notifier notify.Notifier, log *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: store, checker: checker, notifier: notifier, log: log}
}

// Eligible checks the seller may sell at all: not banned and at least one
// completed task.
func (s *Service) Eligible(ctx context.Context, sellerID int64) error {
	u, err := s.store.Get(ctx, sellerID)
	if err != nil {
		return err
	}
	return eligible(u)
}

func eligible(u *models.User) error {
	if u.Banned {
		return ledger.ErrBanned
	}
	if u.TaskCycle < 1 {
		return ledger.Invalid("seller", "complete at least one task before selling accounts")
	}
	return nil
}

// Submit validates, checks the login and, on success, records the sale and
// credits the seller in one transaction.
func (s *Service) Submit(ctx context.Context, sellerID int64, address, password, recovery string) (*Outcome, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		metrics.ResaleSubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	pw, err := ValidatePassword(password)
	if err != nil {
		metrics.ResaleSubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	rec, err := NormalizeRecovery(recovery)
	if err != nil {
		metrics.ResaleSubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := s.Eligible(ctx, sellerID); err != nil {
		return nil, err
	}
	if err := s.ensureNotSold(ctx, addr); err != nil {
		return nil, err
	}
	if err := s.Check(ctx, addr, pw); err != nil {
		return nil, err
	}
	return s.commit(ctx, sellerID, addr, pw, rec, false)
}

// Check runs the live login for a candidate account and maps the outcome to
// ErrAuthFailure / ErrTransient.
func (s *Service) Check(ctx context.Context, address, password string) error {
	res := s.checker.Check(ctx, address, password)
	metrics.VerificationsTotal.WithLabelValues("resale", res.Outcome.String()).Inc()
	switch res.Outcome {
	case verify.Success:
		return nil
	case verify.AuthFailure:
		metrics.ResaleSubmissionsTotal.WithLabelValues("auth_failure").Inc()
		return fmt.Errorf("%w: %s", ledger.ErrAuthFailure, res.Reason)
	default:
		metrics.ResaleSubmissionsTotal.WithLabelValues("transient").Inc()
		return fmt.Errorf("%w: %s", ledger.ErrTransient, res.Reason)
	}
}

func (s *Service) ensureNotSold(ctx context.Context, address string) error {
	var n int64
	err := s.store.DB().WithContext(ctx).Model(&models.SoldCredential{}).
		Where("address = ? AND status <> ?", address, models.SaleRejected).
		Count(&n).Error
	if err != nil {
		s.log.Error("resale duplicate lookup failed", slog.String("error", err.Error()))
		return ledger.ErrInternal
	}
	if n > 0 {
		return ledger.Invalid("address", "this address was already submitted")
	}
	return nil
}

// commit persists the record. A checked record is credited at once; a review
// record waits for Approve.
func (s *Service) commit(ctx context.Context, sellerID int64, address, password, recovery string, review bool) (*Outcome, error) {
	var (
		out  Outcome
		name string
	)
	err := s.store.Tx(ctx, func(tx *ledger.Tx) error {
		u, err := tx.LockUser(sellerID)
		if err != nil {
			return err
		}
		if err := eligible(u); err != nil {
			return err
		}
		var dup int64
		if err := tx.DB.Model(&models.SoldCredential{}).
			Where("address = ? AND status <> ?", address, models.SaleRejected).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return ledger.Invalid("address", "this address was already submitted")
		}

		rate, err := tx.Settings.Decimal(ctx, settings.EarnMailSell)
		if err != nil {
			return err
		}
		now := s.store.Now()
		rec := models.SoldCredential{
			SellerID:       u.ID,
			SellerUsername: u.Username,
			Address:        address,
			Password:       password,
			Recovery:       recovery,
			Status:         models.SaleUnderReview,
			CreatedAt:      now,
			Amount:         rate,
		}
		if !review {
			rec.Status = models.SaleVerified
			rec.AutoVerified = true
			rec.ApprovedAt = &now
		}
		if err := tx.DB.Create(&rec).Error; err != nil {
			return err
		}
		if !review {
			if err := creditSale(tx, u, rate); err != nil {
				return err
			}
		}
		out = Outcome{RecordID: rec.ID, Amount: rate, NewBalance: u.Balance, UnderReview: review}
		name = u.DisplayName()
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := "verified"
	if review {
		result = "queued"
	}
	metrics.ResaleSubmissionsTotal.WithLabelValues(result).Inc()
	s.log.Info("resale recorded",
		slog.Int64("seller_id", sellerID),
		slog.Uint64("record_id", uint64(out.RecordID)),
		slog.Bool("review", review),
	)

	msg := fmt.Sprintf("Account sold by %s (id %d): %s, record #%d, %s TK.", name, sellerID, address, out.RecordID, out.Amount.StringFixed(2))
	if review {
		msg = fmt.Sprintf("Account from %s (id %d) needs manual review: %s, record #%d.", name, sellerID, address, out.RecordID)
	}
	if err := s.notifier.Admins(ctx, msg); err != nil {
		s.log.Warn("resale notification failed", slog.Uint64("record_id", uint64(out.RecordID)), slog.String("error", err.Error()))
	}
	return &out, nil
}

func creditSale(tx *ledger.Tx, u *models.User, amount decimal.Decimal) error {
	if err := tx.Credit(u, amount, "resale"); err != nil {
		return err
	}
	u.ResaleEarnings = u.ResaleEarnings.Add(amount)
	return tx.Save(u, "resale_earnings")
}

// List returns records with the given status, newest first. An empty status
// lists everything.
func (s *Service) List(ctx context.Context, status string, limit int) ([]models.SoldCredential, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.store.DB().WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.SoldCredential
	if err := q.Find(&out).Error; err != nil {
		s.log.Error("resale list failed", slog.String("error", err.Error()))
		return nil, ledger.ErrInternal
	}
	return out, nil
}

func lockRecord(tx *ledger.Tx, id uint) (*models.SoldCredential, error) {
	var rec models.SoldCredential
	res := tx.DB.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Limit(1).Find(&rec)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ledger.ErrNotFound
	}
	if rec.Status != models.SaleUnderReview {
		return nil, ledger.Invalid("status", "record is not under review")
	}
	return &rec, nil
}

// Approve credits the seller for a record under review.
func (s *Service) Approve(ctx context.Context, recordID uint, adminID int64) (*Outcome, error) {
	var (
		out    Outcome
		seller int64
	)
	err := s.store.Tx(ctx, func(tx *ledger.Tx) error {
		rec, err := lockRecord(tx, recordID)
		if err != nil {
			return err
		}
		u, err := tx.LockUser(rec.SellerID)
		if err != nil {
			return err
		}
		if err := creditSale(tx, u, rec.Amount); err != nil {
			return err
		}
		now := s.store.Now()
		err = tx.DB.Model(rec).Updates(map[string]interface{}{
			"status":      models.SaleVerified,
			"admin_id":    adminID,
			"approved_at": now,
		}).Error
		out = Outcome{RecordID: rec.ID, Amount: rec.Amount, NewBalance: u.Balance}
		seller = u.ID
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("resale approved", slog.Uint64("record_id", uint64(recordID)), slog.Int64("admin_id", adminID))
	if err := s.notifier.User(ctx, seller, fmt.Sprintf("Your account sale #%d was approved. +%s TK", recordID, out.Amount.StringFixed(2))); err != nil {
		s.log.Warn("resale approval notice failed", slog.Int64("seller_id", seller), slog.String("error", err.Error()))
	}
	return &out, nil
}

// Reject closes a record under review without paying.
func (s *Service) Reject(ctx context.Context, recordID uint, adminID int64, note string) error {
	var seller int64
	err := s.store.Tx(ctx, func(tx *ledger.Tx) error {
		rec, err := lockRecord(tx, recordID)
		if err != nil {
			return err
		}
		seller = rec.SellerID
		return tx.DB.Model(rec).Updates(map[string]interface{}{
			"status":     models.SaleRejected,
			"admin_id":   adminID,
			"admin_note": note,
		}).Error
	})
	if err != nil {
		return err
	}
	s.log.Info("resale rejected", slog.Uint64("record_id", uint64(recordID)), slog.Int64("admin_id", adminID))
	msg := fmt.Sprintf("Your account sale #%d was rejected.", recordID)
	if note != "" {
		msg += " Reason: " + note
	}
	if err := s.notifier.User(ctx, seller, msg); err != nil {
		s.log.Warn("resale rejection notice failed", slog.Int64("seller_id", seller), slog.String("error", err.Error()))
	}
	return nil
}
