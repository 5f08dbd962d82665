package service

import (
	"context"
	"strings"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	"github.com/Phillboard/mobul-sub000/internal/events"
	ledgerdomain "github.com/Phillboard/mobul-sub000/internal/ledger/domain"
	obsmetrics "github.com/Phillboard/mobul-sub000/internal/observability/metrics"
	"github.com/Phillboard/mobul-sub000/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

// Record inserts the charge keyed by request id. The insert is guarded by
// ON CONFLICT DO NOTHING on the unique request id; a zero changed-row count
// means the charge already exists and the caller is a replay.
func (s *Service) Record(ctx context.Context, req ledgerdomain.RecordRequest) (snowflake.ID, bool, error) {
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		return 0, false, ledgerdomain.ErrInvalidRequestID
	}
	switch req.TransactionType {
	case ledgerdomain.TransactionPurchaseFromInventory, ledgerdomain.TransactionPurchaseFromVendor:
	default:
		return 0, false, ledgerdomain.ErrInvalidTransactionType
	}
	switch req.EntityType {
	case accountdomain.EntityTypeAgency, accountdomain.EntityTypeClient:
	default:
		return 0, false, ledgerdomain.ErrInvalidEntity
	}
	if req.EntityID == 0 {
		return 0, false, ledgerdomain.ErrInvalidEntity
	}
	if req.AmountBilled < 0 || req.CostBasis < 0 || req.Denomination <= 0 {
		return 0, false, ledgerdomain.ErrInvalidAmount
	}

	metadata := map[string]any{"request_id": requestID}
	for key, value := range req.Metadata {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	entryID := s.genID.Generate()
	now := time.Now().UTC()
	inserted := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(
			`INSERT INTO billing_ledger_entries (
				id, request_id, transaction_type, billed_entity_type, billed_entity_id,
				campaign_id, recipient_id, brand_id, denomination,
				amount_billed, cost_basis, profit, inventory_card_id, metadata, billed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (request_id) DO NOTHING`,
			entryID,
			requestID,
			req.TransactionType,
			req.EntityType,
			req.EntityID,
			req.CampaignID,
			req.RecipientID,
			req.BrandID,
			req.Denomination,
			req.AmountBilled,
			req.CostBasis,
			req.AmountBilled-req.CostBasis,
			req.InventoryCardID,
			datatypes.JSONMap(metadata),
			now,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		inserted = true

		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				Type: "ledger.entry_recorded",
				Payload: map[string]any{
					"ledger_entry_id": entryID.String(),
					"request_id":      requestID,
					"entity_type":     string(req.EntityType),
					"entity_id":       req.EntityID.String(),
					"amount_billed":   req.AmountBilled,
				},
				DedupeKey: "ledger_entry:" + requestID,
			})
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	if !inserted {
		var existing ledgerdomain.BillingLedgerEntry
		if err := s.db.WithContext(ctx).
			Where("request_id = ?", requestID).
			First(&existing).Error; err != nil {
			return 0, false, err
		}
		s.log.Info("ledger entry replayed",
			zap.String("request_id", requestID),
			zap.String("ledger_entry_id", existing.ID.String()),
		)
		return existing.ID, false, nil
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(req.TransactionType))
	s.log.Info("ledger entry recorded",
		zap.String("request_id", requestID),
		zap.String("transaction_type", string(req.TransactionType)),
		zap.String("entity_type", string(req.EntityType)),
		zap.Int64("amount_billed", req.AmountBilled),
	)
	return entryID, true, nil
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListRequest) (ledgerdomain.ListResponse, error) {
	stmt := s.db.WithContext(ctx).Model(&ledgerdomain.BillingLedgerEntry{})

	if req.EntityType != "" && req.EntityID != 0 {
		stmt = stmt.Where("billed_entity_type = ? AND billed_entity_id = ?", req.EntityType, req.EntityID)
	}
	if req.CampaignID != 0 {
		stmt = stmt.Where("campaign_id = ?", req.CampaignID)
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return ledgerdomain.ListResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		billedAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return ledgerdomain.ListResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil {
			return ledgerdomain.ListResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		stmt = stmt.Where("(billed_at < ?) OR (billed_at = ? AND id < ?)", billedAt, billedAt, id)
	}

	limit := req.Limit()
	var items []*ledgerdomain.BillingLedgerEntry
	err := stmt.Order("billed_at desc, id desc").Limit(limit + 1).Find(&items).Error
	if err != nil {
		return ledgerdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), func(item *ledgerdomain.BillingLedgerEntry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.BilledAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > limit {
		items = items[:limit]
	}

	entries := make([]ledgerdomain.BillingLedgerEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	resp := ledgerdomain.ListResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// UnbilledCards finds assigned or delivered cards with no ledger row. Each
// finding is a billing gap: a card went out and nobody was charged.
func (s *Service) UnbilledCards(ctx context.Context, since time.Time, limit int) ([]ledgerdomain.UnbilledCard, error) {
	if limit <= 0 {
		limit = 200
	}

	var gaps []ledgerdomain.UnbilledCard
	err := s.db.WithContext(ctx).Raw(
		`SELECT c.id AS card_id, c.brand_id, c.denomination,
			c.assigned_campaign_id AS campaign_id,
			c.assigned_recipient_id AS recipient_id,
			c.assigned_at
		FROM inventory_cards c
		LEFT JOIN billing_ledger_entries l ON l.inventory_card_id = c.id
		WHERE c.status IN (?, ?)
			AND c.assigned_at IS NOT NULL
			AND c.assigned_at >= ?
			AND l.id IS NULL
		ORDER BY c.assigned_at ASC
		LIMIT ?`,
		"assigned", "delivered", since.UTC(), limit,
	).Scan(&gaps).Error
	if err != nil {
		return nil, err
	}

	if len(gaps) > 0 {
		s.obsMetrics.RecordReconciliationGaps(ctx, len(gaps))
	}
	return gaps, nil
}
