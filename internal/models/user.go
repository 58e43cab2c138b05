package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// User status values.
const (
	StatusNew      = "new"
	StatusPending  = "pending"
	StatusVerified = "verified"
)

type User struct {
	ID             int64           `gorm:"primaryKey;autoIncrement:false"` // Telegram user id
	Username       string          `gorm:"size:255"`
	Status         string          `gorm:"size:16;not null;default:'new';index"`
	TaskCycle      int             `gorm:"not null;default:0"`
	Balance        decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0;index"`
	ReferralCount  int             `gorm:"not null;default:0"`
	ReferrerID     int64           `gorm:"not null;default:0;index"`
	ReferralPaid   bool            `gorm:"not null;default:false"`
	Email          string          `gorm:"size:255"`
	Password       string          `gorm:"size:255"`
	ProofRef       string          `gorm:"size:512"`
	JoinedAt       time.Time       `gorm:"not null"`
	Banned         bool            `gorm:"not null;default:false;index"`
	BanReason      string          `gorm:"size:255"`
	IsVIP          bool            `gorm:"column:is_vip;not null;default:false"` // informational, see ledger.IsTop10
	RejectedCount  int             `gorm:"not null;default:0"`
	LastBonusAt    *time.Time
	ResaleEarnings decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	TotalWithdrawn decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	LastWithdrawAt *time.Time
	UpdatedAt      time.Time
}

// DisplayName falls back to the numeric id for users without a username.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return "user" + strconv.FormatInt(u.ID, 10)
}
