package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gmailfarm-bot/internal/settings"
)

const DailyBonusCooldown = 24 * time.Hour

// ClaimDailyBonus credits the daily_bonus rate once per DailyBonusCooldown.
// An early claim returns *CooldownError with the remaining wait.
func (s *Store) ClaimDailyBonus(ctx context.Context, id int64) (amount, balance decimal.Decimal, err error) {
	err = s.Tx(ctx, func(tx *Tx) error {
		u, err := tx.LockUser(id)
		if err != nil {
			return err
		}
		if u.Banned {
			return ErrBanned
		}

		now := s.now()
		if u.LastBonusAt != nil {
			if elapsed := now.Sub(*u.LastBonusAt); elapsed < DailyBonusCooldown {
				return &CooldownError{Remaining: DailyBonusCooldown - elapsed}
			}
		}

		rate, err := tx.Settings.Decimal(ctx, settings.DailyBonus)
		if err != nil {
			return err
		}
		if err := tx.Credit(u, rate, "daily_bonus"); err != nil {
			return err
		}
		u.LastBonusAt = &now
		if err := tx.Save(u, "last_bonus_at"); err != nil {
			return err
		}
		amount, balance = rate, u.Balance
		return nil
	})
	return amount, balance, err
}
