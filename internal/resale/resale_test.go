package resale

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"gmailfarm-bot/internal/credentials"
	"gmailfarm-bot/internal/database"
	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/notify"
	"gmailfarm-bot/internal/session"
	"gmailfarm-bot/internal/settings"
	"gmailfarm-bot/internal/verify"
)

type fixture struct {
	store  *ledger.Store
	svc    *Service
	intake *Intake
	calls  int
	next   verify.Result
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.ConnectSQLite(filepath.Join(t.TempDir(), "resale.db"), nil)
	if err != nil {
		t.Fatalf("connect sqlite: %v", err)
	}
	st := settings.NewStore(db)
	if err := st.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	f := &fixture{store: ledger.NewStore(db, st, credentials.NewIssuer(), nil), next: verify.Result{Outcome: verify.Success}}
	checker := verify.CheckerFunc(func(context.Context, string, string) verify.Result {
		f.calls++
		return f.next
	})
	f.svc = NewService(f.store, checker, notify.Nop{}, nil)
	f.intake = NewIntake(f.svc, session.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0))
	return f
}

// seller registers id with one completed task.
func (f *fixture) seller(t *testing.T, id int64) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := f.store.CreateIfAbsent(ctx, id, "seller", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.store.DB().Model(&models.User{}).Where("id = ?", id).Update("task_cycle", 1).Error; err != nil {
		t.Fatalf("set cycle: %v", err)
	}
}

func (f *fixture) records(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.store.DB().Model(&models.SoldCredential{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"  John.Doe@Gmail.com ", "john.doe@gmail.com", true},
		{"johndoe", "johndoe@gmail.com", true},
		{"abc@gmail.com", "", false},
		{"someone@yahoo.com", "", false},
		{"bad name@gmail.com", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, err := NormalizeAddress(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("NormalizeAddress(%q) = %q, %v; want %q", c.in, got, err, c.want)
		}
		if !c.ok && !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("NormalizeAddress(%q) expected validation error, got %q %v", c.in, got, err)
		}
	}
}

func TestNormalizeRecovery(t *testing.T) {
	for _, skip := range []string{"skip", "/skip", "-", "SKIP", ""} {
		if got, err := NormalizeRecovery(skip); err != nil || got != "" {
			t.Errorf("NormalizeRecovery(%q) = %q, %v", skip, got, err)
		}
	}
	if _, err := NormalizeRecovery("0123456"); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("expected validation error for recovery without @")
	}
	if got, _ := NormalizeRecovery("Back@Up.com"); got != "back@up.com" {
		t.Errorf("unexpected recovery %q", got)
	}
}

func TestSubmit_ValidationFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seller(t, 1)

	inputs := [][3]string{
		{"abc@gmail.com", "secret12", ""},
		{"valid.user@gmail.com", "123", ""},
		{"valid.user@gmail.com", "secret12", "no-at-sign"},
	}
	for _, in := range inputs {
		if _, err := f.svc.Submit(ctx, 1, in[0], in[1], in[2]); !errors.Is(err, ledger.ErrValidation) {
			t.Fatalf("expected validation error for %v, got %v", in, err)
		}
	}
	if f.calls != 0 {
		t.Fatalf("checker ran for invalid input")
	}
	if n := f.records(t); n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
	u, _ := f.store.Get(ctx, 1)
	if !u.Balance.IsZero() {
		t.Fatalf("balance changed to %s", u.Balance)
	}
}

func TestSubmit_Outcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seller(t, 1)

	if _, _, err := f.store.CreateIfAbsent(ctx, 2, "fresh", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.svc.Submit(ctx, 2, "fresh.user@gmail.com", "secret12", ""); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected precondition failure, got %v", err)
	}

	f.next = verify.Result{Outcome: verify.AuthFailure, Reason: "Invalid credentials"}
	if _, err := f.svc.Submit(ctx, 1, "sold.user@gmail.com", "secret12", ""); !errors.Is(err, ledger.ErrAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	f.next = verify.Result{Outcome: verify.TransientError, Reason: "timeout"}
	if _, err := f.svc.Submit(ctx, 1, "sold.user@gmail.com", "secret12", ""); !errors.Is(err, ledger.ErrTransient) {
		t.Fatalf("expected transient, got %v", err)
	}
	if n := f.records(t); n != 0 {
		t.Fatalf("failed checks persisted %d records", n)
	}

	f.next = verify.Result{Outcome: verify.Success}
	out, err := f.svc.Submit(ctx, 1, "Sold.User", "secret12", "/skip")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Amount.Equal(decimal.NewFromInt(10)) || !out.NewBalance.Equal(decimal.NewFromInt(10)) || out.UnderReview {
		t.Fatalf("unexpected outcome %+v", out)
	}
	u, _ := f.store.Get(ctx, 1)
	if !u.ResaleEarnings.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected resale earnings 10, got %s", u.ResaleEarnings)
	}
	recs, err := f.svc.List(ctx, models.SaleVerified, 10)
	if err != nil || len(recs) != 1 || !recs[0].AutoVerified || recs[0].Address != "sold.user@gmail.com" {
		t.Fatalf("unexpected records %+v %v", recs, err)
	}

	if _, err := f.svc.Submit(ctx, 1, "sold.user@gmail.com", "secret12", ""); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected duplicate refusal, got %v", err)
	}
}

func TestIntake_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seller(t, 1)

	if _, err := f.intake.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	r, err := f.intake.Handle(ctx, 1, "x@gmail.com")
	if !errors.Is(err, ledger.ErrValidation) || r.State != session.ResaleAddress {
		t.Fatalf("invalid address should keep the step: %+v %v", r, err)
	}
	if r, err = f.intake.Handle(ctx, 1, "intake.user"); err != nil || r.State != session.ResalePassword {
		t.Fatalf("address step: %+v %v", r, err)
	}

	if r, err = f.intake.Handle(ctx, 1, "rightpw"); err != nil || r.State != session.ResaleRecovery {
		t.Fatalf("password step: %+v %v", r, err)
	}
	if n := f.records(t); n != 0 {
		t.Fatalf("record persisted before recovery step")
	}

	r, err = f.intake.Handle(ctx, 1, "backup@mail.com")
	if err != nil || r.State != session.Idle || r.Outcome == nil {
		t.Fatalf("recovery step: %+v %v", r, err)
	}
	recs, _ := f.svc.List(ctx, "", 10)
	if len(recs) != 1 || recs[0].Recovery != "backup@mail.com" || recs[0].Status != models.SaleVerified {
		t.Fatalf("unexpected records %+v", recs)
	}

	if _, err := f.intake.Handle(ctx, 1, "anything"); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected no intake in progress, got %v", err)
	}
}

func TestIntake_RefusedLoginEndsFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seller(t, 1)

	if _, err := f.intake.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := f.intake.Handle(ctx, 1, "refused.user@gmail.com"); err != nil {
		t.Fatalf("address: %v", err)
	}
	f.next = verify.Result{Outcome: verify.AuthFailure, Reason: "Invalid credentials"}
	r, err := f.intake.Handle(ctx, 1, "wrongpw1")
	if !errors.Is(err, ledger.ErrAuthFailure) || r == nil || r.State != session.Idle {
		t.Fatalf("refused login should end the flow: %+v %v", r, err)
	}

	sess, err := f.intake.sessions.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.State != session.Idle || sess.Resale.Address != "" {
		t.Fatalf("draft survived a refused login: %+v", sess)
	}
	if _, err := f.intake.Handle(ctx, 1, "backup@mail.com"); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected no intake in progress, got %v", err)
	}
	if f.records(t) != 0 {
		t.Fatalf("refused login left a record")
	}
}

func TestIntake_ProviderDownGoesToReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seller(t, 1)

	if _, err := f.intake.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := f.intake.Handle(ctx, 1, "review.user@gmail.com"); err != nil {
		t.Fatalf("address: %v", err)
	}
	f.next = verify.Result{Outcome: verify.TransientError, Reason: "timeout"}
	if _, err := f.intake.Handle(ctx, 1, "secret12"); err != nil {
		t.Fatalf("password: %v", err)
	}
	r, err := f.intake.Handle(ctx, 1, "skip")
	if err != nil || r.Outcome == nil || !r.Outcome.UnderReview {
		t.Fatalf("expected review outcome: %+v %v", r, err)
	}
	u, _ := f.store.Get(ctx, 1)
	if !u.Balance.IsZero() {
		t.Fatalf("review record credited early: %s", u.Balance)
	}

	if _, err := f.svc.Approve(ctx, r.Outcome.RecordID, 99); err != nil {
		t.Fatalf("approve: %v", err)
	}
	u, _ = f.store.Get(ctx, 1)
	if !u.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected 10 after approval, got %s", u.Balance)
	}
	if err := f.svc.Reject(ctx, r.Outcome.RecordID, 99, "late"); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected reject of approved record to fail, got %v", err)
	}
}

func TestIntake_CancelDropsDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seller(t, 1)

	if _, err := f.intake.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := f.intake.Handle(ctx, 1, "cancel.user@gmail.com"); err != nil {
		t.Fatalf("address: %v", err)
	}
	if err := f.intake.Cancel(ctx, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.intake.Handle(ctx, 1, "secret12"); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected no intake after cancel, got %v", err)
	}
	if f.records(t) != 0 {
		t.Fatalf("cancelled intake left a record")
	}
}
