package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sold credential status values.
const (
	SaleUnderReview = "pending"
	SaleVerified    = "verified"
	SaleRejected    = "rejected"
)

type SoldCredential struct {
	ID             uint   `gorm:"primaryKey"`
	SellerID       int64  `gorm:"not null;index"`
	SellerUsername string `gorm:"size:255"`
	Address        string `gorm:"size:255;not null;index"`
	Password       string `gorm:"size:255;not null"`
	Recovery       string `gorm:"size:255"`
	Status         string `gorm:"size:16;not null;default:'pending';index"`
	AdminID        *int64
	AdminNote      string          `gorm:"type:text"`
	CreatedAt      time.Time       `gorm:"not null"`
	ApprovedAt     *time.Time
	Amount         decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	AutoVerified   bool            `gorm:"not null;default:false"`
}
