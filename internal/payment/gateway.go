// Package payment sends payouts to mobile wallets.
package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payout describes one transfer attempt for a withdrawal request. Attempt
// is informational and does not change the idempotence key.
type Payout struct {
	RequestID   uint
	Attempt     int
	Amount      decimal.Decimal
	Destination string
	Method      string
}

// IdempotenceKey depends on the request alone, so a retry after a lost
// response replays the first payout instead of sending a second one.
func (p Payout) IdempotenceKey() string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("withdrawal:%d", p.RequestID))).String()
}

// Result is the provider's answer. OK means the money left; Pending means
// the provider accepted the payout and will report through the webhook.
type Result struct {
	OK            bool
	Pending       bool
	Message       string
	TransactionID string
}

// Gateway performs payouts. A returned error is a transient fault: the
// request stays pending and is retried later.
type Gateway interface {
	SendPayment(ctx context.Context, p Payout) (Result, error)
}
