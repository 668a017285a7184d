package model

import (
	"time"

	"github.com/google/uuid"
)

// Session status values. Moved and closed are terminal.
const (
	SessionActive = "active"
	SessionMoved  = "moved"
	SessionClosed = "closed"
)

// TableSession is one party's occupancy of one table.
// BillingID is fixed at creation; a move creates a successor session that
// carries the same BillingID. At most one active session exists per table
// (partial unique index uq_table_sessions_active_label).
type TableSession struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TableLabel string    `gorm:"type:varchar(40);not null"`
	ServerID   string    `gorm:"type:varchar(64);not null"`
	ServerName string    `gorm:"type:varchar(120);not null"`
	StartTime  time.Time `gorm:"not null"`
	EndTime    *time.Time
	Status     string    `gorm:"type:varchar(20);not null;default:'active'"`
	BillingID  uuid.UUID `gorm:"type:uuid;not null;index"`
	// OriginalTableID is the table the party came from; equal to TableLabel
	// for the first session of a billing.
	OriginalTableID    string  `gorm:"type:varchar(40);not null"`
	DestinationTableID *string `gorm:"type:varchar(40)"`
	MovedAt            *time.Time
}

func (TableSession) TableName() string { return "table_sessions" }

// SessionMove is the append-only history of table moves.
type SessionMove struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID    uuid.UUID `gorm:"type:uuid;not null;index"`
	NewSessionID uuid.UUID `gorm:"type:uuid;not null"`
	BillingID    uuid.UUID `gorm:"type:uuid;not null;index"`
	FromLabel    string    `gorm:"type:varchar(40);not null"`
	ToLabel      string    `gorm:"type:varchar(40);not null"`
	ServerID     string    `gorm:"type:varchar(64);not null"`
	MovedAt      time.Time `gorm:"not null"`
}

func (SessionMove) TableName() string { return "session_moves" }
