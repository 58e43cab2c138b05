// Package task runs the issue-credential / verify cycle for a user.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/metrics"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/notify"
	"gmailfarm-bot/internal/settings"
	"gmailfarm-bot/internal/verify"
)

type Outcome int

const (
	Verified Outcome = iota
	AlreadyVerified
	LoginRejected
	ProviderUnavailable
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case AlreadyVerified:
		return "already_verified"
	case LoginRejected:
		return "login_rejected"
	case ProviderUnavailable:
		return "provider_unavailable"
	default:
		return "unknown"
	}
}

// Result describes one verification attempt. Amount fields are only set
// when Outcome is Verified.
type Result struct {
	Outcome        Outcome
	Reason         string
	Earned         decimal.Decimal
	VIPBonus       decimal.Decimal
	Balance        decimal.Decimal
	Cycle          int
	ReferrerID     int64
	ReferralAmount decimal.Decimal
}

type Assignment struct {
	Email    string
	Password string
	Cycle    int
}

type Service struct {
	store    *ledger.Store
	checker  verify.Checker
	notifier notify.Notifier
	log      *slog.Logger
}

func NewService(store *ledger.Store, checker verify.Checker, notifier notify.Notifier, log *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: store, checker: checker, notifier: notifier, log: log}
}

// StartTask hands out the credential pair for the next cycle. A verified user
// gets a fresh pair and goes back to new.
func (s *Service) StartTask(ctx context.Context, id int64) (*Assignment, error) {
	var out Assignment
	err := s.store.Tx(ctx, func(tx *ledger.Tx) error {
		u, err := tx.LockUser(id)
		if err != nil {
			return err
		}
		if u.Banned {
			return ledger.ErrBanned
		}
		if u.Status == models.StatusVerified {
			u.Email, u.Password = s.store.Issuer().Issue()
			u.Status = models.StatusNew
			u.ProofRef = ""
			if err := tx.Save(u, "email", "password", "status", "proof_ref"); err != nil {
				return err
			}
		}
		out = Assignment{Email: u.Email, Password: u.Password, Cycle: u.TaskCycle + 1}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckLogin verifies the issued pair automatically. The handshake runs
// outside any transaction; crediting re-checks state under the row lock.
func (s *Service) CheckLogin(ctx context.Context, id int64) (*Result, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Banned {
		return nil, ledger.ErrBanned
	}
	if u.Status == models.StatusVerified {
		return &Result{Outcome: AlreadyVerified, Cycle: u.TaskCycle}, nil
	}

	check := s.checker.Check(ctx, u.Email, u.Password)
	metrics.VerificationsTotal.WithLabelValues("auto", check.Outcome.String()).Inc()
	switch check.Outcome {
	case verify.AuthFailure:
		s.log.Info("login check rejected", slog.Int64("user_id", id), slog.String("reason", check.Reason))
		return &Result{Outcome: LoginRejected, Reason: check.Reason}, nil
	case verify.TransientError:
		s.log.Warn("login check unavailable", slog.Int64("user_id", id), slog.String("reason", check.Reason))
		return &Result{Outcome: ProviderUnavailable, Reason: check.Reason}, nil
	}

	var res *Result
	err = s.store.Tx(ctx, func(tx *ledger.Tx) error {
		locked, err := tx.LockUser(id)
		if err != nil {
			return err
		}
		if locked.Banned {
			return ledger.ErrBanned
		}
		if locked.Status == models.StatusVerified {
			res = &Result{Outcome: AlreadyVerified, Cycle: locked.TaskCycle}
			return nil
		}
		if locked.Email != u.Email || locked.Password != u.Password {
			return ledger.Invalid("task", "the task was restarted, check the new credentials")
		}
		res, err = s.creditVerification(tx, locked)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Outcome == Verified {
		s.announce(ctx, u, res, "auto")
	}
	return res, nil
}

// SubmitProof queues the current cycle for manual review.
func (s *Service) SubmitProof(ctx context.Context, id int64, proofRef string) error {
	if proofRef == "" {
		return ledger.Invalid("proof", "send a screenshot of the signed-in account")
	}
	var name string
	err := s.store.Tx(ctx, func(tx *ledger.Tx) error {
		u, err := tx.LockUser(id)
		if err != nil {
			return err
		}
		if u.Banned {
			return ledger.ErrBanned
		}
		if u.Status == models.StatusVerified {
			return ledger.Invalid("status", "this task is already verified, start a new one")
		}
		u.Status = models.StatusPending
		u.ProofRef = proofRef
		name = u.DisplayName()
		return tx.Save(u, "status", "proof_ref")
	})
	if err != nil {
		return err
	}
	s.log.Info("proof submitted", slog.Int64("user_id", id))
	if err := s.notifier.Admins(ctx, fmt.Sprintf("New proof for review from %s (id %d).", name, id)); err != nil {
		s.log.Warn("proof notification failed", slog.Int64("user_id", id), slog.String("error", err.Error()))
	}
	return nil
}

// ApproveProof verifies a pending user through the same crediting path as an
// automatic success.
func (s *Service) ApproveProof(ctx context.Context, id int64) (*Result, error) {
	var (
		res  *Result
		user models.User
	)
	err := s.store.Tx(ctx, func(tx *ledger.Tx) error {
		u, err := tx.LockUser(id)
		if err != nil {
			return err
		}
		if u.Banned {
			return ledger.ErrBanned
		}
		if u.Status != models.StatusPending {
			return ledger.Invalid("status", "no proof under review for this user")
		}
		res, err = s.creditVerification(tx, u)
		user = *u
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.VerificationsTotal.WithLabelValues("manual", "approved").Inc()
	s.announce(ctx, &user, res, "manual")
	return res, nil
}

// RejectProof sends a pending user back to new. Reaching the
// auto_ban_rejections threshold bans the user.
func (s *Service) RejectProof(ctx context.Context, id int64, reason string) (banned bool, err error) {
	err = s.store.Tx(ctx, func(tx *ledger.Tx) error {
		banned = false
		u, err := tx.LockUser(id)
		if err != nil {
			return err
		}
		if u.Status != models.StatusPending {
			return ledger.Invalid("status", "no proof under review for this user")
		}
		limit, err := tx.Settings.Int(tx.Context(), settings.AutoBanRejections)
		if err != nil {
			return err
		}

		u.Status = models.StatusNew
		u.ProofRef = ""
		u.RejectedCount++
		cols := []string{"status", "proof_ref", "rejected_count"}
		if limit > 0 && u.RejectedCount >= limit && !u.Banned {
			u.Banned = true
			u.BanReason = fmt.Sprintf("auto: %d rejected proofs", u.RejectedCount)
			cols = append(cols, "banned", "ban_reason")
			banned = true
		}
		return tx.Save(u, cols...)
	})
	if err != nil {
		return false, err
	}
	metrics.VerificationsTotal.WithLabelValues("manual", "rejected").Inc()
	s.log.Info("proof rejected", slog.Int64("user_id", id), slog.String("reason", reason), slog.Bool("banned", banned))

	msg := "Your proof was rejected."
	if reason != "" {
		msg += " Reason: " + reason
	}
	if banned {
		msg += "\nYour account has been blocked after repeated rejections."
	}
	if err := s.notifier.User(ctx, id, msg); err != nil {
		s.log.Warn("rejection notice failed", slog.Int64("user_id", id), slog.String("error", err.Error()))
	}
	return banned, nil
}

// PendingReviews lists users waiting for manual review, oldest update first.
func (s *Service) PendingReviews(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 20
	}
	var users []models.User
	err := s.store.DB().WithContext(ctx).
		Where("status = ? AND banned = ?", models.StatusPending, false).
		Order("updated_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		s.log.Error("pending reviews query failed", slog.String("error", err.Error()))
		return nil, ledger.ErrInternal
	}
	return users, nil
}

// creditVerification marks a locked user verified and pays out. VIP status is
// taken before the task credit lands.
func (s *Service) creditVerification(tx *ledger.Tx, u *models.User) (*Result, error) {
	ctx := tx.Context()
	vip, err := tx.IsTop10(u.ID)
	if err != nil {
		return nil, err
	}
	earn, err := tx.Settings.Decimal(ctx, settings.EarnGmail)
	if err != nil {
		return nil, err
	}
	bonus := decimal.Zero
	if vip {
		if bonus, err = tx.Settings.Decimal(ctx, settings.VIPBonus); err != nil {
			return nil, err
		}
	}

	if err := tx.Credit(u, earn, "task_verified"); err != nil {
		return nil, err
	}
	if err := tx.Credit(u, bonus, "vip_bonus"); err != nil {
		return nil, err
	}
	u.Status = models.StatusVerified
	u.TaskCycle++
	u.IsVIP = vip
	if err := tx.Save(u, "status", "task_cycle", "is_vip"); err != nil {
		return nil, err
	}

	res := &Result{
		Outcome:  Verified,
		Earned:   earn,
		VIPBonus: bonus,
		Balance:  u.Balance,
		Cycle:    u.TaskCycle,
	}

	if u.ReferrerID != 0 && !u.ReferralPaid {
		amount, paid, err := tx.PayReferral(u.ReferrerID, u.ID, models.ReferralFirstVerification)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		if paid {
			res.ReferrerID, res.ReferralAmount = u.ReferrerID, amount
		}
		u.ReferralPaid = true
		if err := tx.Save(u, "referral_paid"); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) announce(ctx context.Context, u *models.User, res *Result, path string) {
	s.log.Info("task verified",
		slog.Int64("user_id", u.ID),
		slog.String("path", path),
		slog.Int("cycle", res.Cycle),
		slog.String("earned", res.Earned.Add(res.VIPBonus).StringFixed(2)),
	)
	if path == "manual" {
		msg := fmt.Sprintf("Your task #%d was approved. +%s TK", res.Cycle, res.Earned.Add(res.VIPBonus).StringFixed(2))
		if err := s.notifier.User(ctx, u.ID, msg); err != nil {
			s.log.Warn("approval notice failed", slog.Int64("user_id", u.ID), slog.String("error", err.Error()))
		}
	}
	if res.ReferrerID != 0 {
		msg := fmt.Sprintf("Your referral %s completed their first task. +%s TK", u.DisplayName(), res.ReferralAmount.StringFixed(2))
		if err := s.notifier.User(ctx, res.ReferrerID, msg); err != nil {
			s.log.Warn("referral notice failed", slog.Int64("user_id", res.ReferrerID), slog.String("error", err.Error()))
		}
	}
}
