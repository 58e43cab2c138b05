package payment

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type PayoutDestination struct {
	Type    string `json:"type"`
	Account string `json:"account_number"`
}

type CreatePayoutRequest struct {
	Amount      Amount            `json:"amount"`
	Destination PayoutDestination `json:"payout_destination_data"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Payout statuses reported by the provider.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusCanceled  = "canceled"
)

type PayoutResponse struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	Amount              Amount               `json:"amount"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
	Metadata            map[string]string    `json:"metadata,omitempty"`
}

type CancellationDetails struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

type APIError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Webhook structures

type WebhookNotification struct {
	Type   string         `json:"type"`
	Event  string         `json:"event"`
	Object PayoutResponse `json:"object"`
}

const (
	EventPayoutSucceeded = "payout.succeeded"
	EventPayoutCanceled  = "payout.canceled"

	metaWithdrawalID = "withdrawal_id"
)
