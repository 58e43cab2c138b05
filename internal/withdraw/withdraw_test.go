package withdraw

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"gmailfarm-bot/internal/credentials"
	"gmailfarm-bot/internal/database"
	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/settings"
)

const phone = "01712345678"

func newTestService(t *testing.T) (*Service, *ledger.Store) {
	t.Helper()
	db, err := database.ConnectSQLite(filepath.Join(t.TempDir(), "withdraw.db"), nil)
	if err != nil {
		t.Fatalf("connect sqlite: %v", err)
	}
	st := settings.NewStore(db)
	if err := st.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := ledger.NewStore(db, st, credentials.NewIssuer(), nil)
	return NewService(store, nil, nil), store
}

func fund(t *testing.T, store *ledger.Store, id int64, amount int64) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := store.CreateIfAbsent(ctx, id, "", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if amount > 0 {
		if _, err := store.AdjustBalance(ctx, id, decimal.NewFromInt(amount), "seed"); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
}

func count(t *testing.T, store *ledger.Store) int64 {
	t.Helper()
	var n int64
	if err := store.DB().Model(&models.WithdrawalRequest{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestNormalizeDestination(t *testing.T) {
	for _, in := range []string{"01712345678", "+8801712345678", "8801712345678", " 017-1234-5678 "} {
		got, err := NormalizeDestination(in)
		if err != nil || got != "+8801712345678" {
			t.Errorf("NormalizeDestination(%q) = %q, %v", in, got, err)
		}
	}
	for _, in := range []string{"12345", "abc", "+14155550123"} {
		if _, err := NormalizeDestination(in); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("NormalizeDestination(%q) expected validation error, got %v", in, err)
		}
	}
}

func TestParseAmount(t *testing.T) {
	if a, err := ParseAmount(" 120.50 "); err != nil || !a.Equal(decimal.RequireFromString("120.5")) {
		t.Fatalf("unexpected %s %v", a, err)
	}
	for _, in := range []string{"-5", "0", "abc", "10.123"} {
		if _, err := ParseAmount(in); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("ParseAmount(%q) expected validation error, got %v", in, err)
		}
	}
}

func TestRequest_MoreThanBalance(t *testing.T) {
	svc, store := newTestService(t)
	fund(t, store, 1, 100)

	_, err := svc.Request(context.Background(), 1, decimal.NewFromInt(150), "bkash", phone)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if n := count(t, store); n != 0 {
		t.Fatalf("expected no record, got %d", n)
	}
}

func TestRequest_Validation(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	fund(t, store, 1, 500)

	if _, err := svc.Request(ctx, 1, decimal.NewFromInt(100), "paypal", phone); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("unknown method: %v", err)
	}
	if _, err := svc.Request(ctx, 1, decimal.NewFromInt(100), "nagad", "999"); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("bad destination: %v", err)
	}
	if _, err := svc.Request(ctx, 1, decimal.NewFromInt(10), "nagad", phone); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("below minimum: %v", err)
	}
	if _, err := svc.Request(ctx, 42, decimal.NewFromInt(100), "nagad", phone); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown user: %v", err)
	}

	if err := store.Settings().Set(ctx, settings.WithdrawalsEnabled, "0"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := svc.Request(ctx, 1, decimal.NewFromInt(100), "nagad", phone); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("disabled withdrawals: %v", err)
	}
	if err := store.Settings().Set(ctx, settings.WithdrawalsEnabled, "1"); err != nil {
		t.Fatalf("enable: %v", err)
	}

	if err := store.SetBanned(ctx, 1, true, "fraud"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if _, err := svc.Request(ctx, 1, decimal.NewFromInt(100), "nagad", phone); !errors.Is(err, ledger.ErrBanned) {
		t.Fatalf("banned: %v", err)
	}
	if n := count(t, store); n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
}

func TestRequest_PendingRequestsReserveBalance(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	fund(t, store, 1, 150)

	req, err := svc.Request(ctx, 1, decimal.NewFromInt(100), " Rocket ", "+8801712345678")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Method != MethodRocket || req.Status != models.WithdrawalPending {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := svc.Request(ctx, 1, decimal.NewFromInt(100), "bkash", phone); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("second request should exceed the unreserved balance, got %v", err)
	}
	u, _ := store.Get(ctx, 1)
	if !u.Balance.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("request debited the balance: %s", u.Balance)
	}
}

func TestResolve_DebitOnlyWhenPaid(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	fund(t, store, 1, 300)

	rejected, err := svc.Request(ctx, 1, decimal.NewFromInt(100), "bkash", phone)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Resolve(ctx, rejected.ID, Resolution{Outcome: Failed, Note: "wrong number"}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	u, _ := store.Get(ctx, 1)
	if !u.Balance.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("rejection changed balance to %s", u.Balance)
	}

	paid, err := svc.Request(ctx, 1, decimal.NewFromInt(120), "nagad", phone)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	got, err := svc.Resolve(ctx, paid.ID, Resolution{Outcome: Paid, TransactionID: "TX-1"})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if got.Status != models.WithdrawalPaid || got.TransactionID == nil || *got.TransactionID != "TX-1" || got.ProcessedAt == nil {
		t.Fatalf("unexpected paid request %+v", got)
	}
	u, _ = store.Get(ctx, 1)
	if !u.Balance.Equal(decimal.NewFromInt(180)) || !u.TotalWithdrawn.Equal(decimal.NewFromInt(120)) || u.LastWithdrawAt == nil {
		t.Fatalf("unexpected user after payout %+v", u)
	}

	if _, err := svc.Resolve(ctx, paid.ID, Resolution{Outcome: Paid}); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("double resolve: %v", err)
	}
	if _, err := svc.Resolve(ctx, 9999, Resolution{Outcome: Paid}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("unknown request: %v", err)
	}
	u, _ = store.Get(ctx, 1)
	if !u.Balance.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("double resolve debited again: %s", u.Balance)
	}

	hist, err := svc.History(ctx, 1, 10)
	if err != nil || len(hist) != 2 || hist[0].ID != paid.ID {
		t.Fatalf("unexpected history %+v %v", hist, err)
	}
}

func TestResolve_PaidWithoutCoverRejects(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	fund(t, store, 1, 100)

	req, err := svc.Request(ctx, 1, decimal.NewFromInt(100), "bkash", phone)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := store.AdjustBalance(ctx, 1, decimal.NewFromInt(-30), "admin"); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	got, err := svc.Resolve(ctx, req.ID, Resolution{Outcome: Paid, TransactionID: "TX-2"})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got == nil || got.Status != models.WithdrawalRejected {
		t.Fatalf("expected rejected request, got %+v", got)
	}
	u, _ := store.Get(ctx, 1)
	if !u.Balance.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("balance changed: %s", u.Balance)
	}
}

func TestResolve_RetryBounded(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	svc.SetMaxRetries(2)
	fund(t, store, 1, 100)

	req, err := svc.Request(ctx, 1, decimal.NewFromInt(60), "bkash", phone)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	got, err := svc.Resolve(ctx, req.ID, Resolution{Outcome: Retry, Note: "timeout", Auto: true})
	if err != nil || got.Status != models.WithdrawalPending || got.RetryCount != 1 || got.LastRetryAt == nil {
		t.Fatalf("first retry: %+v %v", got, err)
	}
	if stored, _ := svc.Get(ctx, req.ID); stored.AutoPayment {
		t.Fatalf("retry flagged the request as submitted")
	}
	pending, _ := svc.Pending(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("expected request still pending")
	}
	got, err = svc.Resolve(ctx, req.ID, Resolution{Outcome: Retry, Note: "timeout"})
	if err != nil || got.Status != models.WithdrawalRejected || got.RetryCount != 2 {
		t.Fatalf("second retry should reject: %+v %v", got, err)
	}
	u, _ := store.Get(ctx, 1)
	if !u.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("retries changed balance: %s", u.Balance)
	}
}
