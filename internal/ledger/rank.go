package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/settings"
)

const vipSize = 10

type Rank string

const (
	RankNoob      Rank = "Noob"
	RankProFarmer Rank = "Pro Farmer"
	RankLegend    Rank = "Legend"
)

// RankFor maps completed verifications to a rank label.
func RankFor(verified int) Rank {
	switch {
	case verified >= 50:
		return RankLegend
	case verified >= 10:
		return RankProFarmer
	default:
		return RankNoob
	}
}

// TopIDs returns the ids of the n highest balances among non-banned users,
// ties broken by ascending id.
func TopIDs(db *gorm.DB, n int) ([]int64, error) {
	var ids []int64
	err := db.Model(&models.User{}).
		Where("banned = ?", false).
		Order("balance DESC").
		Order("id ASC").
		Limit(n).
		Pluck("id", &ids).Error
	return ids, err
}

func isTop(db *gorm.DB, id int64, n int) (bool, error) {
	ids, err := TopIDs(db, n)
	if err != nil {
		return false, err
	}
	for _, top := range ids {
		if top == id {
			return true, nil
		}
	}
	return false, nil
}

// IsTop10 reports current VIP membership. It is recomputed on every call.
func (s *Store) IsTop10(ctx context.Context, id int64) (bool, error) {
	ok, err := isTop(s.db.WithContext(ctx), id, vipSize)
	if err != nil {
		return false, s.storageErr("top10", err)
	}
	return ok, nil
}

func (s *Store) VIPBonusRate(ctx context.Context) (decimal.Decimal, error) {
	return s.settings.Decimal(ctx, settings.VIPBonus)
}

// MinWithdraw returns the minimum withdrawal for id: the VIP threshold while
// the user is in the top 10, the general one otherwise.
func (s *Store) MinWithdraw(ctx context.Context, id int64) (decimal.Decimal, error) {
	vip, err := s.IsTop10(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if vip {
		return s.settings.Decimal(ctx, settings.VIPMinWithdraw)
	}
	return s.settings.Decimal(ctx, settings.MinWithdraw)
}
