package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Referral payout kinds. Each kind is paid at most once per invited user.
const (
	ReferralSignup            = "signup"
	ReferralFirstVerification = "first_verification"
)

type ReferralTransaction struct {
	ID            uint            `gorm:"primaryKey"`
	ReferrerID    int64           `gorm:"not null;index"`
	InvitedUserID int64           `gorm:"not null;uniqueIndex:idx_referral_invited_kind"`
	Kind          string          `gorm:"size:32;not null;uniqueIndex:idx_referral_invited_kind"`
	Amount        decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	CreatedAt     time.Time
}
