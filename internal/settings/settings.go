package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gmailfarm-bot/internal/models"
)

// Setting keys.
const (
	EarnReferral       = "earn_referral"
	EarnGmail          = "earn_gmail"
	VIPBonus           = "vip_bonus"
	MinWithdraw        = "min_withdraw"
	VIPMinWithdraw     = "vip_min_withdraw"
	WithdrawalsEnabled = "withdrawals_enabled"
	Notice             = "notice"
	EarnMailSell       = "earn_mail_sell"
	AutoPaymentEnabled = "auto_payment_enabled"
	DailyBonus         = "daily_bonus"
	AutoBanRejections  = "auto_ban_rejections"
)

var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Defaults are written on first boot and never overwrite admin changes.
var Defaults = map[string]string{
	EarnReferral:       "5.0",
	EarnGmail:          "10.0",
	VIPBonus:           "2.0",
	MinWithdraw:        "100.0",
	VIPMinWithdraw:     "50.0",
	WithdrawalsEnabled: "1",
	Notice:             "Welcome to Gmail Buy Sell! Start Earning today.",
	EarnMailSell:       "10.0",
	AutoPaymentEnabled: "1",
	DailyBonus:         "2.0",
	AutoBanRejections:  "5",
}

var decimalKeys = map[string]bool{
	EarnReferral:   true,
	EarnGmail:      true,
	VIPBonus:       true,
	MinWithdraw:    true,
	VIPMinWithdraw: true,
	EarnMailSell:   true,
	DailyBonus:     true,
}

var boolKeys = map[string]bool{
	WithdrawalsEnabled: true,
	AutoPaymentEnabled: true,
}

// Store reads settings straight from the database on every call.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// With returns a Store bound to tx, for reads inside a ledger transaction.
func (s *Store) With(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Seed inserts missing defaults.
func (s *Store) Seed(ctx context.Context) error {
	rows := make([]models.Setting, 0, len(Defaults))
	for k, v := range Defaults {
		rows = append(rows, models.Setting{Key: k, Value: v})
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// Get returns the stored value, or the default when the key was never written.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var row models.Setting
	err := s.db.WithContext(ctx).Where("key = ?", key).Limit(1).Find(&row).Error
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	if row.Key == "" {
		if v, ok := Defaults[key]; ok {
			return v, nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return row.Value, nil
}

func (s *Store) Decimal(ctx context.Context, key string) (decimal.Decimal, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, raw)
	}
	return v, nil
}

func (s *Store) Bool(ctx context.Context, key string) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return parseBool(raw), nil
}

func (s *Store) Int(ctx context.Context, key string) (int, error) {
	d, err := s.Decimal(ctx, key)
	if err != nil {
		return 0, err
	}
	return int(d.IntPart()), nil
}

// Set validates and upserts a value. Numeric keys must be non-negative decimals.
func (s *Store) Set(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	if _, ok := Defaults[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	switch {
	case decimalKeys[key] || key == AutoBanRejections:
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, value)
		}
		value = d.String()
	case boolKeys[key]:
		if parseBool(value) {
			value = "1"
		} else {
			value = "0"
		}
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&models.Setting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// All returns every stored setting merged over the defaults.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make(map[string]string, len(Defaults))
	for k, v := range Defaults {
		out[k] = v
	}
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
