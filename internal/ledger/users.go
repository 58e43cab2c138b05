package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	"gmailfarm-bot/internal/models"
)

// Get re-reads the user on every call.
func (s *Store) Get(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	res := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&u)
	if res.Error != nil {
		return nil, s.storageErr("get user", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &u, nil
}

// CreateIfAbsent registers a user on first contact. An existing user is
// returned unchanged with created=false and no side effects. For a new user
// whose referrerID resolves to another existing user, the referrer is
// credited the referral rate and their referral count increases.
func (s *Store) CreateIfAbsent(ctx context.Context, id int64, displayName string, referrerID int64) (*models.User, bool, error) {
	if id <= 0 {
		return nil, false, Invalid("user_id", "must be positive")
	}

	var (
		out     *models.User
		created bool
	)
	err := s.Tx(ctx, func(tx *Tx) error {
		out, created = nil, false

		var existing models.User
		res := tx.DB.Where("id = ?", id).Limit(1).Find(&existing)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			out = &existing
			return nil
		}

		email, password := s.issuer.Issue()
		u := &models.User{
			ID:       id,
			Username: strings.TrimSpace(displayName),
			Status:   models.StatusNew,
			Email:    email,
			Password: password,
			JoinedAt: s.now(),
		}
		if referrerID != 0 && referrerID != id {
			if _, err := tx.LockUser(referrerID); err == nil {
				u.ReferrerID = referrerID
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		ins := tx.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(u)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			// Lost a race with a concurrent first contact.
			winner, err := tx.LockUser(id)
			if err != nil {
				return err
			}
			out = winner
			return nil
		}

		if u.ReferrerID != 0 {
			if _, _, err := tx.PayReferral(u.ReferrerID, u.ID, models.ReferralSignup); err != nil {
				return err
			}
		}
		out, created = u, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("user registered", slog.Int64("user_id", id), slog.Int64("referrer_id", out.ReferrerID))
	}
	return out, created, nil
}

// AdjustBalance applies delta and returns the new balance. A delta that would
// leave the balance negative fails with ErrInsufficientFunds.
func (s *Store) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal, reason string) (decimal.Decimal, error) {
	if reason == "" {
		reason = "adjustment"
	}
	var balance decimal.Decimal
	err := s.Tx(ctx, func(tx *Tx) error {
		u, err := tx.LockUser(id)
		if err != nil {
			return err
		}
		if delta.IsNegative() {
			err = tx.Debit(u, delta.Neg(), reason)
		} else {
			err = tx.Credit(u, delta, reason)
		}
		if err != nil {
			return err
		}
		balance = u.Balance
		return nil
	})
	return balance, err
}

func (s *Store) SetStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case models.StatusNew, models.StatusPending, models.StatusVerified:
	default:
		return Invalid("status", "unknown status "+status)
	}
	return s.Tx(ctx, func(tx *Tx) error {
		u, err := tx.LockUser(id)
		if err != nil {
			return err
		}
		u.Status = status
		return tx.Save(u, "status")
	})
}

func (s *Store) IsBanned(ctx context.Context, id int64) (bool, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return u.Banned, nil
}

// SetBanned bans or unbans a user. Unbanning clears the reason.
func (s *Store) SetBanned(ctx context.Context, id int64, banned bool, reason string) error {
	err := s.Tx(ctx, func(tx *Tx) error {
		u, err := tx.LockUser(id)
		if err != nil {
			return err
		}
		u.Banned = banned
		u.BanReason = ""
		if banned {
			u.BanReason = reason
		}
		return tx.Save(u, "banned", "ban_reason")
	})
	if err == nil {
		s.log.Info("ban state changed", slog.Int64("user_id", id), slog.Bool("banned", banned), slog.String("reason", reason))
	}
	return err
}

// PurgeSynthetic hard-deletes display-padding records whose ids start at minID.
// Real Telegram ids never reach that range.
func (s *Store) PurgeSynthetic(ctx context.Context, minID int64) (int64, error) {
	if minID <= 0 {
		return 0, Invalid("min_id", "must be positive")
	}
	var deleted int64
	err := s.Tx(ctx, func(tx *Tx) error {
		res := tx.DB.Where("id >= ?", minID).Delete(&models.User{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err == nil {
		s.log.Info("synthetic users purged", slog.Int64("deleted", deleted))
	}
	return deleted, err
}
