// Package session keeps per-user conversation state in redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 30 * time.Minute
	keyPrefix  = "session:"
)

// State names the step a user is in. The zero value is idle.
type State string

const (
	Idle              State = ""
	AwaitingProof     State = "awaiting_proof"
	ResaleAddress     State = "resale_address"
	ResalePassword    State = "resale_password"
	ResaleRecovery    State = "resale_recovery"
	WithdrawAmount    State = "withdraw_amount"
	WithdrawMethod    State = "withdraw_method"
	WithdrawDest      State = "withdraw_destination"
	SupportMessage    State = "support_message"
	AdminSettingValue State = "admin_setting_value"
	AdminRejectReason State = "admin_reject_reason"
	AdminTicketReply  State = "admin_ticket_reply"
	AdminBroadcast    State = "admin_broadcast"
)

type ResaleDraft struct {
	Address  string `json:"address,omitempty"`
	Password string `json:"password,omitempty"`
	// Review is set when the provider could not be reached and the record
	// will go to manual review instead of being credited.
	Review bool `json:"review,omitempty"`
}

type WithdrawDraft struct {
	Amount string `json:"amount,omitempty"`
	Method string `json:"method,omitempty"`
}

// AdminDraft carries the target of a multi-step admin action.
type AdminDraft struct {
	Key      string `json:"key,omitempty"`
	TargetID int64  `json:"target_id,omitempty"`
}

type Session struct {
	UserID    int64         `json:"user_id"`
	State     State         `json:"state"`
	Resale    ResaleDraft   `json:"resale"`
	Withdraw  WithdrawDraft `json:"withdraw"`
	Admin     AdminDraft    `json:"admin"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(userID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, userID)
}

// Get returns the user's session, or an idle one when none is stored.
func (s *Store) Get(ctx context.Context, userID int64) (*Session, error) {
	raw, err := s.rdb.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Session{UserID: userID, State: Idle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		// A corrupt entry is dropped rather than blocking the user.
		_ = s.rdb.Del(ctx, key(userID)).Err()
		return &Session{UserID: userID, State: Idle}, nil
	}
	return &sess, nil
}

// Save stores the session and refreshes its TTL. Saving an idle session
// deletes it.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess.State == Idle {
		return s.Clear(ctx, sess.UserID)
	}
	sess.UpdatedAt = time.Now()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, key(sess.UserID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
