package resale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/session"
)

// Reply is what the intake wants shown after a step. Outcome is set once the
// sale is committed.
type Reply struct {
	State   session.State
	Prompt  string
	Outcome *Outcome
}

// Intake collects address, password and recovery over several messages.
// The login is checked as soon as the password arrives; nothing is persisted
// to the ledger until the recovery step completes.
type Intake struct {
	svc      *Service
	sessions *session.Store
}

func NewIntake(svc *Service, sessions *session.Store) *Intake {
	return &Intake{svc: svc, sessions: sessions}
}

func (in *Intake) Begin(ctx context.Context, sellerID int64) (*Reply, error) {
	if err := in.svc.Eligible(ctx, sellerID); err != nil {
		return nil, err
	}
	sess := &session.Session{UserID: sellerID, State: session.ResaleAddress}
	if err := in.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &Reply{State: sess.State, Prompt: "Send the Gmail address you want to sell."}, nil
}

// Handle feeds one message into the current step. A rejected input returns
// the error and leaves the step unchanged, except a refused login, which
// drops the draft.
func (in *Intake) Handle(ctx context.Context, sellerID int64, text string) (*Reply, error) {
	sess, err := in.sessions.Get(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	stay := &Reply{State: sess.State}

	switch sess.State {
	case session.ResaleAddress:
		addr, err := NormalizeAddress(text)
		if err != nil {
			return stay, err
		}
		if err := in.svc.ensureNotSold(ctx, addr); err != nil {
			return stay, err
		}
		sess.Resale = session.ResaleDraft{Address: addr}
		sess.State = session.ResalePassword
		if err := in.sessions.Save(ctx, sess); err != nil {
			return nil, err
		}
		return &Reply{State: sess.State, Prompt: fmt.Sprintf("Now send the password for %s.", addr)}, nil

	case session.ResalePassword:
		pw, err := ValidatePassword(text)
		if err != nil {
			return stay, err
		}
		review := false
		if err := in.svc.Check(ctx, sess.Resale.Address, pw); err != nil {
			if !errors.Is(err, ledger.ErrTransient) {
				// A refused login ends the flow; the seller starts over.
				if cerr := in.sessions.Clear(ctx, sellerID); cerr != nil {
					in.svc.log.Warn("resale session not cleared", slog.Int64("seller_id", sellerID), slog.String("error", cerr.Error()))
				}
				return &Reply{State: session.Idle}, err
			}
			review = true
		}
		sess.Resale.Password = pw
		sess.Resale.Review = review
		sess.State = session.ResaleRecovery
		if err := in.sessions.Save(ctx, sess); err != nil {
			return nil, err
		}
		prompt := "Login confirmed. Send the recovery email, or /skip."
		if review {
			prompt = "Gmail is not answering, so this account will be reviewed manually. Send the recovery email, or /skip."
		}
		return &Reply{State: sess.State, Prompt: prompt}, nil

	case session.ResaleRecovery:
		rec, err := NormalizeRecovery(text)
		if err != nil {
			return stay, err
		}
		out, err := in.svc.commit(ctx, sellerID, sess.Resale.Address, sess.Resale.Password, rec, sess.Resale.Review)
		if err != nil {
			if errors.Is(err, ledger.ErrBusy) || errors.Is(err, ledger.ErrInternal) {
				return stay, err
			}
			_ = in.sessions.Clear(ctx, sellerID)
			return &Reply{State: session.Idle}, err
		}
		if err := in.sessions.Clear(ctx, sellerID); err != nil {
			in.svc.log.Warn("resale session not cleared", slog.Int64("seller_id", sellerID), slog.String("error", err.Error()))
		}
		prompt := fmt.Sprintf("Sold! +%s TK. Balance: %s TK.", out.Amount.StringFixed(2), out.NewBalance.StringFixed(2))
		if out.UnderReview {
			prompt = fmt.Sprintf("Submitted for review as #%d. You will be paid once an admin approves it.", out.RecordID)
		}
		return &Reply{State: session.Idle, Prompt: prompt, Outcome: out}, nil
	}
	return nil, ledger.Invalid("session", "no sale in progress")
}

func (in *Intake) Cancel(ctx context.Context, sellerID int64) error {
	return in.sessions.Clear(ctx, sellerID)
}
