package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CheckpointStatus string

const (
	StatusStarted   CheckpointStatus = "started"
	StatusCompleted CheckpointStatus = "completed"
	StatusFailed    CheckpointStatus = "failed"
)

// Checkpoint records one step transition of one provisioning request.
// Detail never contains raw card codes; callers mask before appending.
type Checkpoint struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	RequestID string            `gorm:"type:text;not null;index:ix_provision_checkpoints_request" json:"request_id"`
	Step      string            `gorm:"type:text;not null" json:"step"`
	Status    CheckpointStatus  `gorm:"type:text;not null" json:"status"`
	ErrorCode *string           `gorm:"type:text" json:"error_code,omitempty"`
	Detail    datatypes.JSONMap `gorm:"type:jsonb" json:"detail,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Checkpoint) TableName() string { return "provision_checkpoints" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, cp *Checkpoint) error
	ListByRequest(ctx context.Context, db *gorm.DB, requestID string) ([]Checkpoint, error)
}

// Service is the fire-and-forget step recorder. Append never fails the
// caller; a write error is logged and swallowed.
type Service interface {
	Append(ctx context.Context, requestID, step string, status CheckpointStatus, errorCode string, detail map[string]any)
	Trail(ctx context.Context, requestID string) ([]Checkpoint, error)
}

var ErrInvalidRequestID = errors.New("invalid_request_id")
