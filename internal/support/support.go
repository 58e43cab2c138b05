// Package support stores user questions and admin answers.
package support

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm/clause"

	"gmailfarm-bot/internal/ledger"
	"gmailfarm-bot/internal/models"
	"gmailfarm-bot/internal/notify"
)

const maxMessageLen = 2000

type Service struct {
	store    *ledger.Store
	notifier notify.Notifier
	log      *slog.Logger
}

func NewService(store *ledger.Store, notifier notify.Notifier, log *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: store, notifier: notifier, log: log}
}

func (s *Service) Open(ctx context.Context, userID int64, message string) (*models.SupportTicket, error) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return nil, ledger.Invalid("message", "write your question as text")
	}
	if utf8.RuneCountInString(msg) > maxMessageLen {
		return nil, ledger.Invalid("message", "the message is too long")
	}
	if _, err := s.store.Get(ctx, userID); err != nil {
		return nil, err
	}

	t := models.SupportTicket{
		UserID:    userID,
		Message:   msg,
		Status:    models.TicketOpen,
		CreatedAt: s.store.Now(),
	}
	if err := s.store.DB().WithContext(ctx).Create(&t).Error; err != nil {
		s.log.Error("ticket create failed", slog.String("error", err.Error()))
		return nil, ledger.ErrInternal
	}
	s.log.Info("ticket opened", slog.Uint64("ticket_id", uint64(t.ID)), slog.Int64("user_id", userID))
	if err := s.notifier.Admins(ctx, fmt.Sprintf("Support ticket #%d from %d:\n%s", t.ID, userID, msg)); err != nil {
		s.log.Warn("ticket notification failed", slog.Uint64("ticket_id", uint64(t.ID)), slog.String("error", err.Error()))
	}
	return &t, nil
}

// Reply answers an open ticket and closes it.
func (s *Service) Reply(ctx context.Context, ticketID uint, adminID int64, reply string) (*models.SupportTicket, error) {
	text := strings.TrimSpace(reply)
	if text == "" {
		return nil, ledger.Invalid("reply", "the reply is empty")
	}

	var t models.SupportTicket
	err := s.store.Tx(ctx, func(tx *ledger.Tx) error {
		res := tx.DB.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", ticketID).Limit(1).Find(&t)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ledger.ErrNotFound
		}
		if t.Status != models.TicketOpen {
			return ledger.Invalid("status", "the ticket is already closed")
		}
		t.Reply = text
		t.AdminID = &adminID
		t.Status = models.TicketClosed
		return tx.DB.Model(&t).Select("reply", "admin_id", "status").Updates(&t).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket answered", slog.Uint64("ticket_id", uint64(ticketID)), slog.Int64("admin_id", adminID))
	if err := s.notifier.User(ctx, t.UserID, fmt.Sprintf("Support answered your ticket #%d:\n%s", t.ID, text)); err != nil {
		s.log.Warn("ticket reply not delivered", slog.Uint64("ticket_id", uint64(ticketID)), slog.String("error", err.Error()))
	}
	return &t, nil
}

// ListOpen returns open tickets, oldest first.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]models.SupportTicket, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.SupportTicket
	err := s.store.DB().WithContext(ctx).
		Where("status = ?", models.TicketOpen).
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		s.log.Error("ticket list failed", slog.String("error", err.Error()))
		return nil, ledger.ErrInternal
	}
	return out, nil
}
