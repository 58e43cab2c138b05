package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/notify"
	"gmailfarm-bot/internal/utils"
	"gmailfarm-bot/internal/withdraw"
)

func payout() Payout {
	return Payout{RequestID: 7, Attempt: 0, Amount: decimal.RequireFromString("150.5"), Destination: "+8801712345678", Method: "bkash"}
}

func TestIdempotenceKeyStablePerRequest(t *testing.T) {
	p := payout()
	p.Attempt = 3
	if p.IdempotenceKey() != payout().IdempotenceKey() {
		t.Fatalf("retry of the same request must reuse the key")
	}
	other := payout()
	other.RequestID = 8
	if other.IdempotenceKey() == payout().IdempotenceKey() {
		t.Fatalf("different requests share a key")
	}
}

func TestSimulator(t *testing.T) {
	ctx := context.Background()
	always := NewSimulator(1, 0)
	res, err := always.SendPayment(ctx, payout())
	if err != nil || !res.OK || !strings.HasPrefix(res.TransactionID, "SIM") {
		t.Fatalf("unexpected success result %+v %v", res, err)
	}
	never := NewSimulator(0, 0)
	res, err = never.SendPayment(ctx, payout())
	if err != nil || res.OK || res.Message == "" {
		t.Fatalf("unexpected decline result %+v %v", res, err)
	}

	slow := NewSimulator(1, time.Second)
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := slow.SendPayment(cctx, payout()); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestClient_SendPayment(t *testing.T) {
	var gotKey, gotAuthUser string
	var gotBody CreatePayoutRequest
	status := http.StatusOK
	reply := `{"id":"po-1","status":"succeeded"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payouts" || r.Method != http.MethodPost {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotence-Key")
		gotAuthUser, _, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "shop-1", "secret")
	ctx := context.Background()

	res, err := c.SendPayment(ctx, payout())
	if err != nil || !res.OK || res.TransactionID != "po-1" {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
	if gotKey != payout().IdempotenceKey() || gotAuthUser != "shop-1" {
		t.Fatalf("missing headers: key=%q user=%q", gotKey, gotAuthUser)
	}
	if gotBody.Amount.Value != "150.50" || gotBody.Metadata[metaWithdrawalID] != "7" || gotBody.Destination.Account != "+8801712345678" {
		t.Fatalf("unexpected body %+v", gotBody)
	}

	reply = `{"id":"po-2","status":"pending"}`
	if res, err = c.SendPayment(ctx, payout()); err != nil || !res.Pending || res.OK {
		t.Fatalf("expected pending result, got %+v %v", res, err)
	}

	reply = `{"id":"po-3","status":"canceled","cancellation_details":{"party":"provider","reason":"wallet_blocked"}}`
	if res, err = c.SendPayment(ctx, payout()); err != nil || res.OK || !strings.Contains(res.Message, "wallet_blocked") {
		t.Fatalf("expected canceled result, got %+v %v", res, err)
	}

	status, reply = http.StatusBadRequest, `{"type":"error","code":"invalid_request","description":"bad account"}`
	if res, err = c.SendPayment(ctx, payout()); err != nil || res.OK || !strings.Contains(res.Message, "bad account") {
		t.Fatalf("expected declined result, got %+v %v", res, err)
	}

	status, reply = http.StatusServiceUnavailable, `{}`
	if _, err = c.SendPayment(ctx, payout()); err == nil {
		t.Fatalf("expected transient error on 503")
	}
}

type mockResolver struct {
	ResolveFunc func(ctx context.Context, id uint, res withdraw.Resolution) (*models.WithdrawalRequest, error)
	calls       []withdraw.Resolution
}

func (m *mockResolver) Resolve(ctx context.Context, id uint, res withdraw.Resolution) (*models.WithdrawalRequest, error) {
	m.calls = append(m.calls, res)
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, id, res)
	}
	return &models.WithdrawalRequest{ID: id}, nil
}

type alert struct {
	key  string
	text string
}

type mockNotifier struct {
	notify.Nop
	alerts []alert
}

func (m *mockNotifier) Once(_ context.Context, key string, _ time.Duration, text string) error {
	m.alerts = append(m.alerts, alert{key: key, text: text})
	return nil
}

func postWebhook(t *testing.T, h http.Handler, remote string, n WebhookNotification) int {
	t.Helper()
	raw, _ := json.Marshal(n)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(raw))
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestWebhookHandler(t *testing.T) {
	allow, err := utils.ParseAllowList([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("allow list: %v", err)
	}
	res := &mockResolver{}
	h := NewWebhookHandler(res, allow, nil, nil)

	ok := WebhookNotification{Event: EventPayoutSucceeded, Object: PayoutResponse{ID: "po-9", Metadata: map[string]string{metaWithdrawalID: "12"}}}

	if code := postWebhook(t, h, "192.168.1.1:4000", ok); code != http.StatusForbidden {
		t.Fatalf("expected 403 for unlisted peer, got %d", code)
	}
	if code := postWebhook(t, h, "10.1.1.1:4000", ok); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(res.calls) != 1 || res.calls[0].Outcome != withdraw.Paid || res.calls[0].TransactionID != "po-9" || !res.calls[0].Auto {
		t.Fatalf("unexpected resolution %+v", res.calls)
	}

	canceled := WebhookNotification{Event: EventPayoutCanceled, Object: PayoutResponse{ID: "po-10", Metadata: map[string]string{metaWithdrawalID: "13"}, CancellationDetails: &CancellationDetails{Reason: "expired"}}}
	if code := postWebhook(t, h, "10.1.1.1:4000", canceled); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if res.calls[1].Outcome != withdraw.Failed || !strings.Contains(res.calls[1].Note, "expired") {
		t.Fatalf("unexpected cancel resolution %+v", res.calls[1])
	}

	if code := postWebhook(t, h, "10.1.1.1:4000", WebhookNotification{Event: "payment.succeeded"}); code != http.StatusOK || len(res.calls) != 2 {
		t.Fatalf("unrelated events should be acknowledged and ignored")
	}
	if code := postWebhook(t, h, "10.1.1.1:4000", WebhookNotification{Event: EventPayoutSucceeded}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without withdrawal id, got %d", code)
	}

	res.ResolveFunc = func(context.Context, uint, withdraw.Resolution) (*models.WithdrawalRequest, error) {
		return nil, ledger.ErrBusy
	}
	if code := postWebhook(t, h, "10.1.1.1:4000", ok); code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the provider retries, got %d", code)
	}
	res.ResolveFunc = func(context.Context, uint, withdraw.Resolution) (*models.WithdrawalRequest, error) {
		return nil, withdraw.ErrNotPending
	}
	if code := postWebhook(t, h, "10.1.1.1:4000", ok); code != http.StatusOK {
		t.Fatalf("expected 200 for an already closed request, got %d", code)
	}

	get := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWebhookHandler_AlertsWhenPaidPayoutIsUncovered(t *testing.T) {
	allow, err := utils.ParseAllowList([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("allow list: %v", err)
	}
	res := &mockResolver{ResolveFunc: func(_ context.Context, id uint, _ withdraw.Resolution) (*models.WithdrawalRequest, error) {
		return &models.WithdrawalRequest{ID: id, Status: models.WithdrawalRejected}, ledger.ErrInsufficientFunds
	}}
	notes := &mockNotifier{}
	h := NewWebhookHandler(res, allow, notes, nil)

	paid := WebhookNotification{Event: EventPayoutSucceeded, Object: PayoutResponse{ID: "po-21", Metadata: map[string]string{metaWithdrawalID: "21"}}}
	if code := postWebhook(t, h, "10.1.1.1:4000", paid); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(notes.alerts) != 1 || notes.alerts[0].key != "payout-mismatch:21" || !strings.Contains(notes.alerts[0].text, "po-21") {
		t.Fatalf("expected one mismatch alert, got %+v", notes.alerts)
	}

	res.ResolveFunc = func(context.Context, uint, withdraw.Resolution) (*models.WithdrawalRequest, error) {
		return nil, withdraw.ErrNotPending
	}
	if code := postWebhook(t, h, "10.1.1.1:4000", paid); code != http.StatusOK || len(notes.alerts) != 1 {
		t.Fatalf("closed request must not alert, alerts %+v", notes.alerts)
	}
}
