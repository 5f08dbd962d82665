package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Phillboard/mobul-sub000/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// EventCardProvisioned fires after a successful provision; consumers
	// notify the recipient. The payload never carries the card code.
	EventCardProvisioned = "card.provisioned"
)

// Event is an outbound domain event published inside the transaction that
// produced it. DedupeKey makes redelivered publishes idempotent.
type Event struct {
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// OutboxEvent is the persisted outbox row.
type OutboxEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Type        string            `gorm:"type:text;not null;index" json:"type"`
	DedupeKey   string            `gorm:"type:text;not null;uniqueIndex:ux_outbox_events_dedupe" json:"dedupe_key"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	PublishedAt *time.Time        `gorm:"index" json:"published_at,omitempty"`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "outbox_events" }

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidDedupeKey = errors.New("invalid_dedupe_key")
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
}

// Outbox writes events into the same transaction as the state change they
// describe. A background dispatcher drains unpublished rows.
type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
}

func NewOutbox(p Params) *Outbox {
	return &Outbox{
		log:   p.Log.Named("events.outbox"),
		genID: p.GenID,
	}
}

// PublishTx enqueues an event inside the caller's transaction. A duplicate
// dedupe key is treated as already-published and is not an error.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return ErrInvalidEventType
	}
	dedupeKey := strings.TrimSpace(event.DedupeKey)
	if dedupeKey == "" {
		return ErrInvalidDedupeKey
	}

	row := OutboxEvent{
		ID:        o.genID.Generate(),
		Type:      eventType,
		DedupeKey: dedupeKey,
		Payload:   datatypes.JSONMap(event.Payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			o.log.Debug("outbox event deduplicated", zap.String("dedupe_key", dedupeKey))
			return nil
		}
		return err
	}
	return nil
}

// Publish enqueues an event outside any caller transaction.
func (o *Outbox) Publish(ctx context.Context, conn *gorm.DB, event Event) error {
	return o.PublishTx(ctx, conn, event)
}

// FetchPending returns up to limit unpublished events, oldest first.
func (o *Outbox) FetchPending(ctx context.Context, conn *gorm.DB, limit int) ([]OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []OutboxEvent
	err := conn.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkPublished stamps a dispatched event so it is never redelivered.
func (o *Outbox) MarkPublished(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE outbox_events SET published_at = ? WHERE id = ? AND published_at IS NULL`,
		time.Now().UTC(), id,
	).Error
}

// DecodePayload unmarshals an outbox payload into out.
func DecodePayload(row OutboxEvent, out any) error {
	raw, err := json.Marshal(map[string]any(row.Payload))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
)
