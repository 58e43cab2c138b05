package ledger

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"gmailfarm-bot/internal/models"
)

type LeaderboardEntry struct {
	UserID        int64
	DisplayName   string
	Balance       decimal.Decimal
	ReferralCount int
}

// Leaderboard lists non-banned users by balance, highest first.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("banned = ?", false).
		Order("balance DESC").
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, s.storageErr("leaderboard", err)
	}
	out := make([]LeaderboardEntry, 0, len(users))
	for i := range users {
		out = append(out, LeaderboardEntry{
			UserID:        users[i].ID,
			DisplayName:   users[i].DisplayName(),
			Balance:       users[i].Balance,
			ReferralCount: users[i].ReferralCount,
		})
	}
	return out, nil
}

type Stats struct {
	Users              int64
	Verified           int64
	PendingReview      int64
	Banned             int64
	TotalBalance       decimal.Decimal
	TotalWithdrawn     decimal.Decimal
	PendingWithdrawals int64
	PendingAmount      decimal.Decimal
	SoldCredentials    int64
	ResalePaid         decimal.Decimal
}

// Stats aggregates counters for the admin panel.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	st := &Stats{}

	counts := []struct {
		dst   *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&st.Users, &models.User{}, "", nil},
		{&st.Verified, &models.User{}, "status = ?", []interface{}{models.StatusVerified}},
		{&st.PendingReview, &models.User{}, "status = ?", []interface{}{models.StatusPending}},
		{&st.Banned, &models.User{}, "banned = ?", []interface{}{true}},
		{&st.PendingWithdrawals, &models.WithdrawalRequest{}, "status = ?", []interface{}{models.WithdrawalPending}},
		{&st.SoldCredentials, &models.SoldCredential{}, "status = ?", []interface{}{models.SaleVerified}},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return nil, s.storageErr("stats count", err)
		}
	}

	sums := []struct {
		dst   *decimal.Decimal
		model interface{}
		expr  string
		where string
		arg   interface{}
	}{
		{&st.TotalBalance, &models.User{}, "balance", "", nil},
		{&st.TotalWithdrawn, &models.User{}, "total_withdrawn", "", nil},
		{&st.PendingAmount, &models.WithdrawalRequest{}, "amount", "status = ?", models.WithdrawalPending},
		{&st.ResalePaid, &models.SoldCredential{}, "amount", "status = ?", models.SaleVerified},
	}
	for _, sm := range sums {
		q := db.Model(sm.model).Select("SUM(" + sm.expr + ")")
		if sm.where != "" {
			q = q.Where(sm.where, sm.arg)
		}
		total, err := sumDecimal(q)
		if err != nil {
			return nil, s.storageErr("stats sum", err)
		}
		*sm.dst = total
	}
	return st, nil
}

// ReferralSummary returns how many users id referred and what those
// referrals have paid so far.
func (s *Store) ReferralSummary(ctx context.Context, id int64) (count int64, earned decimal.Decimal, err error) {
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Where("referrer_id = ?", id).Count(&count).Error; err != nil {
		return 0, decimal.Zero, s.storageErr("referral count", err)
	}
	earned, err = sumDecimal(db.Model(&models.ReferralTransaction{}).
		Select("SUM(amount)").
		Where("referrer_id = ?", id))
	if err != nil {
		return 0, decimal.Zero, s.storageErr("referral sum", err)
	}
	return count, earned, nil
}

// ActiveUserIDs lists every non-banned user id below maxID, for broadcasts.
// maxID <= 0 means no upper bound.
func (s *Store) ActiveUserIDs(ctx context.Context, maxID int64) ([]int64, error) {
	q := s.db.WithContext(ctx).Model(&models.User{}).Where("banned = ?", false)
	if maxID > 0 {
		q = q.Where("id < ?", maxID)
	}
	var ids []int64
	if err := q.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, s.storageErr("active users", err)
	}
	return ids, nil
}

// sumDecimal scans a single SUM column. SQLite returns REAL sums, so the
// result is rounded to cents.
func sumDecimal(q *gorm.DB) (decimal.Decimal, error) {
	var raw sql.NullString
	if err := q.Scan(&raw).Error; err != nil {
		return decimal.Zero, err
	}
	if !raw.Valid || raw.String == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw.String)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(2), nil
}
