package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal request status values.
const (
	WithdrawalPending  = "pending"
	WithdrawalPaid     = "paid"
	WithdrawalRejected = "rejected"
)

type WithdrawalRequest struct {
	ID               uint            `gorm:"primaryKey"`
	UserID           int64           `gorm:"not null;index"`
	Amount           decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Method           string          `gorm:"size:32;not null"`
	Destination      string          `gorm:"size:32;not null"`
	Status           string          `gorm:"size:16;not null;default:'pending';index"`
	RequestedAt      time.Time       `gorm:"not null"`
	ProcessedAt      *time.Time
	TransactionID    *string `gorm:"size:255"`
	ProviderResponse string  `gorm:"type:text"`
	AutoPayment      bool    `gorm:"not null;default:false"`
	RetryCount       int     `gorm:"not null;default:0"`
	LastRetryAt      *time.Time
}
