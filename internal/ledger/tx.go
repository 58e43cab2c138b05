package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gmailfarm-bot/internal/metrics"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/settings"
)

// Tx is the handle passed to Store.Tx callbacks. All reads and writes made
// through it belong to the same database transaction.
type Tx struct {
	ctx      context.Context
	DB       *gorm.DB
	Settings *settings.Store
	store    *Store
}

func (t *Tx) Context() context.Context { return t.ctx }

// LockUser loads the user row with SELECT ... FOR UPDATE.
func (t *Tx) LockUser(id int64) (*models.User, error) {
	var u models.User
	res := t.DB.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Limit(1).Find(&u)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &u, nil
}

// Save writes the named columns of a locked user.
func (t *Tx) Save(u *models.User, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}
	return t.DB.Model(u).Select(columns).Updates(u).Error
}

// Credit adds amount to a locked user's balance.
func (t *Tx) Credit(u *models.User, amount decimal.Decimal, reason string) error {
	if amount.IsNegative() {
		return Invalid("amount", "credit must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	u.Balance = u.Balance.Add(amount)
	if err := t.Save(u, "balance"); err != nil {
		return err
	}
	t.recordAdjustment(u, amount, reason)
	return nil
}

// Debit subtracts amount from a locked user's balance, refusing to go negative.
func (t *Tx) Debit(u *models.User, amount decimal.Decimal, reason string) error {
	if amount.IsNegative() {
		return Invalid("amount", "debit must not be negative")
	}
	next := u.Balance.Sub(amount)
	if next.IsNegative() {
		return ErrInsufficientFunds
	}
	u.Balance = next
	if err := t.Save(u, "balance"); err != nil {
		return err
	}
	t.recordAdjustment(u, amount.Neg(), reason)
	return nil
}

func (t *Tx) recordAdjustment(u *models.User, delta decimal.Decimal, reason string) {
	metrics.BalanceAdjustmentsTotal.WithLabelValues(reason).Inc()
	t.store.log.Info("balance adjusted",
		slog.Int64("user_id", u.ID),
		slog.String("delta", delta.StringFixed(2)),
		slog.String("balance", u.Balance.StringFixed(2)),
		slog.String("reason", reason),
	)
}

// PayReferral credits the referral rate to referrerID for invitedID. Each kind
// is paid at most once per invited user; paid is false when it already was.
func (t *Tx) PayReferral(referrerID, invitedID int64, kind string) (amount decimal.Decimal, paid bool, err error) {
	if referrerID == 0 || referrerID == invitedID {
		return decimal.Zero, false, nil
	}
	rate, err := t.Settings.Decimal(t.ctx, settings.EarnReferral)
	if err != nil {
		return decimal.Zero, false, err
	}
	referrer, err := t.LockUser(referrerID)
	if err != nil {
		return decimal.Zero, false, err
	}

	rec := models.ReferralTransaction{
		ReferrerID:    referrerID,
		InvitedUserID: invitedID,
		Kind:          kind,
		Amount:        rate,
		CreatedAt:     t.store.now(),
	}
	res := t.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return decimal.Zero, false, res.Error
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, false, nil
	}

	if kind == models.ReferralSignup {
		referrer.ReferralCount++
		if err := t.Save(referrer, "referral_count"); err != nil {
			return decimal.Zero, false, err
		}
	}
	if err := t.Credit(referrer, rate, "referral_"+kind); err != nil {
		return decimal.Zero, false, err
	}
	return rate, true, nil
}

// IsTop10 evaluates VIP membership inside the transaction.
func (t *Tx) IsTop10(id int64) (bool, error) {
	return isTop(t.DB, id, vipSize)
}

// MinWithdraw returns the withdrawal minimum that applies to id right now.
func (t *Tx) MinWithdraw(id int64) (decimal.Decimal, error) {
	vip, err := t.IsTop10(id)
	if err != nil {
		return decimal.Zero, err
	}
	key := settings.MinWithdraw
	if vip {
		key = settings.VIPMinWithdraw
	}
	return t.Settings.Decimal(t.ctx, key)
}
