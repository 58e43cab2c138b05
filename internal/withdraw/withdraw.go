// Package withdraw manages payout requests against the user ledger.
package withdraw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/metrics"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/notify"
	"gmailfarm-bot/internal/settings"
)

const (
	MethodBkash  = "bkash"
	MethodNagad  = "nagad"
	MethodRocket = "rocket"

	DefaultMaxRetries = 3
	region            = "BD"
)

var Methods = []string{MethodBkash, MethodNagad, MethodRocket}

type Outcome int

const (
	Paid Outcome = iota
	Failed
	Retry
)

func (o Outcome) String() string {
	switch o {
	case Paid:
		return "paid"
	case Failed:
		return "failed"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Resolution is the result of one payout attempt or admin decision.
type Resolution struct {
	Outcome       Outcome
	TransactionID string
	Note          string
	Auto          bool
}

type requestForm struct {
	UserID      int64  `validate:"gt=0"`
	Method      string `validate:"required,oneof=bkash nagad rocket"`
	Destination string `validate:"required,min=6,max=20"`
}

type Service struct {
	store      *ledger.Store
	notifier   notify.Notifier
	log        *slog.Logger
	validate   *validator.Validate
	maxRetries int
}

func NewService(store *ledger.Store, notifier notify.Notifier, log *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:      store,
		notifier:   notifier,
		log:        log,
		validate:   validator.New(),
		maxRetries: DefaultMaxRetries,
	}
}

func (s *Service) SetMaxRetries(n int) {
	if n > 0 {
		s.maxRetries = n
	}
}

// NormalizeDestination parses a Bangladeshi mobile number into E.164.
func NormalizeDestination(raw string) (string, error) {
	num, err := libphonenumber.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", ledger.Invalid("destination", "send a valid mobile number, e.g. 01712345678")
	}
	if !libphonenumber.IsValidNumberForRegion(num, region) {
		return "", ledger.Invalid("destination", "the number is not a valid Bangladeshi number")
	}
	switch libphonenumber.GetNumberType(num) {
	case libphonenumber.MOBILE, libphonenumber.FIXED_LINE_OR_MOBILE:
	default:
		return "", ledger.Invalid("destination", "the number must be a mobile number")
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// ParseAmount reads a TK amount with at most two decimals.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, ledger.Invalid("amount", "send the amount as a number")
	}
	if !amount.IsPositive() {
		return decimal.Zero, ledger.Invalid("amount", "the amount must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return decimal.Zero, ledger.Invalid("amount", "use at most two decimals")
	}
	return amount, nil
}

// Request records a pending payout. The balance is not touched until the
// request is paid, but pending requests count against it.
func (s *Service) Request(ctx context.Context, userID int64, amount decimal.Decimal, method, destination string) (*models.WithdrawalRequest, error) {
	form := requestForm{
		UserID:      userID,
		Method:      strings.ToLower(strings.TrimSpace(method)),
		Destination: strings.TrimSpace(destination),
	}
	if err := s.validate.Struct(&form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, ledger.Invalid(strings.ToLower(verrs[0].Field()), fieldHint(verrs[0].Field()))
		}
		return nil, ledger.Invalid("request", err.Error())
	}
	if !amount.IsPositive() {
		return nil, ledger.Invalid("amount", "the amount must be positive")
	}
	dest, err := NormalizeDestination(form.Destination)
	if err != nil {
		return nil, err
	}

	var req models.WithdrawalRequest
	var name string
	err = s.store.Tx(ctx, func(tx *ledger.Tx) error {
		enabled, err := tx.Settings.Bool(ctx, settings.WithdrawalsEnabled)
		if err != nil {
			return err
		}
		if !enabled {
			return ledger.Invalid("withdrawals", "withdrawals are paused right now")
		}
		u, err := tx.LockUser(userID)
		if err != nil {
			return err
		}
		if u.Banned {
			return ledger.ErrBanned
		}
		minimum, err := tx.MinWithdraw(userID)
		if err != nil {
			return err
		}
		if amount.LessThan(minimum) {
			return ledger.Invalid("amount", fmt.Sprintf("the minimum withdrawal is %s TK", minimum.StringFixed(2)))
		}
		reserved, err := pendingTotal(tx, userID)
		if err != nil {
			return err
		}
		if amount.Add(reserved).GreaterThan(u.Balance) {
			return ledger.ErrInsufficientFunds
		}

		req = models.WithdrawalRequest{
			UserID:      userID,
			Amount:      amount,
			Method:      form.Method,
			Destination: dest,
			Status:      models.WithdrawalPending,
			RequestedAt: s.store.Now(),
		}
		name = u.DisplayName()
		return tx.DB.Create(&req).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues(models.WithdrawalPending).Inc()
	s.log.Info("withdrawal requested",
		slog.Int64("user_id", userID),
		slog.Uint64("request_id", uint64(req.ID)),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("method", req.Method),
	)
	msg := fmt.Sprintf("Withdrawal #%d: %s (id %d) asks %s TK via %s to %s.", req.ID, name, userID, amount.StringFixed(2), req.Method, dest)
	if err := s.notifier.Admins(ctx, msg); err != nil {
		s.log.Warn("withdrawal notification failed", slog.Uint64("request_id", uint64(req.ID)), slog.String("error", err.Error()))
	}
	return &req, nil
}

func fieldHint(field string) string {
	switch field {
	case "Method":
		return "choose bkash, nagad or rocket"
	case "Destination":
		return "send a valid mobile number"
	default:
		return "invalid " + strings.ToLower(field)
	}
}

func pendingTotal(tx *ledger.Tx, userID int64) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := tx.DB.Model(&models.WithdrawalRequest{}).
		Where("user_id = ? AND status = ?", userID, models.WithdrawalPending).
		Pluck("amount", &amounts).Error
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total, err
}

// ErrNotPending is returned when resolving a request that is already closed.
var ErrNotPending = ledger.Invalid("status", "the request is no longer pending")

// Resolve applies a payout result. Only Paid debits the balance; a paid
// request that no longer fits the balance is rejected and
// ErrInsufficientFunds is returned with the updated request.
func (s *Service) Resolve(ctx context.Context, requestID uint, res Resolution) (*models.WithdrawalRequest, error) {
	var (
		req          models.WithdrawalRequest
		insufficient bool
	)
	err := s.store.Tx(ctx, func(tx *ledger.Tx) error {
		insufficient = false
		found := tx.DB.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", requestID).Limit(1).Find(&req)
		if found.Error != nil {
			return found.Error
		}
		if found.RowsAffected == 0 {
			return ledger.ErrNotFound
		}
		if req.Status != models.WithdrawalPending {
			return ErrNotPending
		}

		now := s.store.Now()
		req.ProviderResponse = res.Note
		cols := []string{"status", "provider_response"}

		switch res.Outcome {
		case Paid:
			paid, err := s.debit(tx, &req, now)
			if err != nil {
				return err
			}
			req.ProcessedAt = &now
			cols = append(cols, "processed_at")
			if !paid {
				insufficient = true
				req.Status = models.WithdrawalRejected
				req.ProviderResponse = "insufficient balance at payout"
				break
			}
			req.Status = models.WithdrawalPaid
			if res.TransactionID != "" {
				txID := res.TransactionID
				req.TransactionID = &txID
			}
			cols = append(cols, "transaction_id")

		case Failed:
			req.Status = models.WithdrawalRejected
			req.ProcessedAt = &now
			cols = append(cols, "processed_at")

		case Retry:
			req.RetryCount++
			req.LastRetryAt = &now
			cols = append(cols, "retry_count", "last_retry_at")
			if req.RetryCount >= s.maxRetries {
				req.Status = models.WithdrawalRejected
				req.ProcessedAt = &now
				cols = append(cols, "processed_at")
			}

		default:
			return ledger.Invalid("outcome", "unknown outcome")
		}
		// auto_payment on an open request means "waiting for the webhook";
		// only MarkSubmitted sets it there.
		if req.Status != models.WithdrawalPending {
			req.AutoPayment = res.Auto
			cols = append(cols, "auto_payment")
		}
		return tx.DB.Model(&req).Select(cols).Updates(&req).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues(req.Status).Inc()
	s.log.Info("withdrawal resolved",
		slog.Uint64("request_id", uint64(req.ID)),
		slog.String("outcome", res.Outcome.String()),
		slog.String("status", req.Status),
		slog.Int("retry_count", req.RetryCount),
	)
	s.notifyUser(ctx, &req)
	if insufficient {
		return &req, ledger.ErrInsufficientFunds
	}
	return &req, nil
}

// MarkSubmitted flags a pending request as handed to the automatic payout
// provider; the dispatcher leaves it alone until the webhook resolves it.
func (s *Service) MarkSubmitted(ctx context.Context, requestID uint, note string) error {
	return s.store.Tx(ctx, func(tx *ledger.Tx) error {
		res := tx.DB.Model(&models.WithdrawalRequest{}).
			Where("id = ? AND status = ?", requestID, models.WithdrawalPending).
			Updates(map[string]interface{}{"auto_payment": true, "provider_response": note})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotPending
		}
		return nil
	})
}

// debit charges the request to its user. paid is false when the balance no
// longer covers it.
func (s *Service) debit(tx *ledger.Tx, req *models.WithdrawalRequest, now time.Time) (paid bool, err error) {
	u, err := tx.LockUser(req.UserID)
	if err != nil {
		return false, err
	}
	if err := tx.Debit(u, req.Amount, "withdrawal"); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return false, nil
		}
		return false, err
	}
	u.TotalWithdrawn = u.TotalWithdrawn.Add(req.Amount)
	u.LastWithdrawAt = &now
	return true, tx.Save(u, "total_withdrawn", "last_withdraw_at")
}

func (s *Service) notifyUser(ctx context.Context, req *models.WithdrawalRequest) {
	var msg string
	switch req.Status {
	case models.WithdrawalPaid:
		msg = fmt.Sprintf("Withdrawal #%d of %s TK was sent to %s.", req.ID, req.Amount.StringFixed(2), req.Destination)
	case models.WithdrawalRejected:
		msg = fmt.Sprintf("Withdrawal #%d of %s TK was rejected.", req.ID, req.Amount.StringFixed(2))
		if req.ProviderResponse != "" {
			msg += " Reason: " + req.ProviderResponse
		}
	default:
		return
	}
	if err := s.notifier.User(ctx, req.UserID, msg); err != nil {
		s.log.Warn("withdrawal notice failed", slog.Int64("user_id", req.UserID), slog.String("error", err.Error()))
	}
}

func (s *Service) Get(ctx context.Context, requestID uint) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	res := s.store.DB().WithContext(ctx).Where("id = ?", requestID).Limit(1).Find(&req)
	if res.Error != nil {
		s.log.Error("withdrawal lookup failed", slog.String("error", res.Error.Error()))
		return nil, ledger.ErrInternal
	}
	if res.RowsAffected == 0 {
		return nil, ledger.ErrNotFound
	}
	return &req, nil
}

// Pending lists open requests, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]models.WithdrawalRequest, error) {
	return s.list(ctx, s.store.DB().WithContext(ctx).
		Where("status = ?", models.WithdrawalPending).
		Order("requested_at ASC").Order("id ASC"), limit)
}

// History lists a user's requests, newest first.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]models.WithdrawalRequest, error) {
	return s.list(ctx, s.store.DB().WithContext(ctx).
		Where("user_id = ?", userID).
		Order("requested_at DESC").Order("id DESC"), limit)
}

func (s *Service) list(ctx context.Context, q *gorm.DB, limit int) ([]models.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.WithdrawalRequest
	if err := q.Limit(limit).Find(&out).Error; err != nil {
		s.log.Error("withdrawal list failed", slog.String("error", err.Error()))
		return nil, ledger.ErrInternal
	}
	return out, nil
}
