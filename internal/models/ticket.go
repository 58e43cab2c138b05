package models

import "time"

// Support ticket status values.
const (
	TicketOpen   = "open"
	TicketClosed = "closed"
)

type SupportTicket struct {
	ID        uint  `gorm:"primaryKey"`
	UserID    int64 `gorm:"not null;index"`
	AdminID   *int64
	Message   string    `gorm:"type:text;not null"`
	Reply     string    `gorm:"type:text"`
	Status    string    `gorm:"size:16;not null;default:'open';index"`
	CreatedAt time.Time `gorm:"not null"`
}
