package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const currencyBDT = "BDT"

// ErrRejectedRequest marks a 4xx answer: the payout is refused, not delayed.
var ErrRejectedRequest = errors.New("payout request rejected by provider")

// Client talks to the payout provider's REST API.
type Client struct {
	ShopID    string
	SecretKey string
	APIURL    string
	http      *resty.Client
}

func NewClient(apiURL, shopID, secretKey string) *Client {
	rc := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(10*time.Second).
		SetBasicAuth(shopID, secretKey).
		SetHeader("Content-Type", "application/json")
	return &Client{
		ShopID:    shopID,
		SecretKey: secretKey,
		APIURL:    apiURL,
		http:      rc,
	}
}

// CreatePayout posts a payout. Network faults and 5xx answers are returned
// as plain errors; 4xx answers wrap ErrRejectedRequest.
func (c *Client) CreatePayout(ctx context.Context, p Payout) (*PayoutResponse, error) {
	body := CreatePayoutRequest{
		Amount: Amount{
			Value:    p.Amount.StringFixed(2),
			Currency: currencyBDT,
		},
		Destination: PayoutDestination{
			Type:    p.Method,
			Account: p.Destination,
		},
		Description: fmt.Sprintf("Withdrawal #%d", p.RequestID),
		Metadata: map[string]string{
			metaWithdrawalID: strconv.FormatUint(uint64(p.RequestID), 10),
		},
	}

	var out PayoutResponse
	var apiErr APIError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotence-Key", p.IdempotenceKey()).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/payouts")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
		return nil, fmt.Errorf("api error: %s (status: %d)", resp.String(), resp.StatusCode())
	}
	if resp.IsError() {
		reason := apiErr.Description
		if reason == "" {
			reason = resp.String()
		}
		return nil, fmt.Errorf("%w: %s (status: %d)", ErrRejectedRequest, reason, resp.StatusCode())
	}
	return &out, nil
}

func (c *Client) SendPayment(ctx context.Context, p Payout) (Result, error) {
	out, err := c.CreatePayout(ctx, p)
	if err != nil {
		if errors.Is(err, ErrRejectedRequest) {
			return Result{OK: false, Message: err.Error()}, nil
		}
		return Result{}, err
	}
	switch out.Status {
	case StatusSucceeded:
		return Result{OK: true, TransactionID: out.ID, Message: "payout succeeded"}, nil
	case StatusCanceled:
		msg := "payout canceled"
		if out.CancellationDetails != nil {
			msg += ": " + out.CancellationDetails.Reason
		}
		return Result{OK: false, TransactionID: out.ID, Message: msg}, nil
	default:
		return Result{Pending: true, TransactionID: out.ID, Message: "awaiting provider " + out.ID}, nil
	}
}
