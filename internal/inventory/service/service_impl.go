package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Phillboard/mobul-sub000/internal/config"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	obsmetrics "github.com/Phillboard/mobul-sub000/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	CfgHolder  *config.ProvisioningConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	cfgHolder  *config.ProvisioningConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) inventorydomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("inventory.service"),
		genID:      p.GenID,
		cfgHolder:  p.CfgHolder,
		obsMetrics: p.ObsMetrics,
	}
}

// Claim moves exactly one available (brand, denomination) card to assigned.
// The transition is a guarded UPDATE: candidates are selected, then the
// status flip is conditioned on the row still being available, and a zero
// changed-row count means another request won the race. Lost races retry
// against the next candidate up to the configured bound.
func (s *Service) Claim(ctx context.Context, brandID snowflake.ID, denomination int64, campaignID, recipientID snowflake.ID) (*inventorydomain.InventoryCard, error) {
	if brandID == 0 || denomination <= 0 || campaignID == 0 || recipientID == 0 {
		return nil, inventorydomain.ErrInvalidDenomination
	}

	retries := s.cfgHolder.Get().ClaimRetries
	if s.db.Dialector.Name() == "postgres" {
		return s.claimPostgres(ctx, brandID, denomination, campaignID, recipientID)
	}

	for attempt := 0; attempt < retries; attempt++ {
		var candidate inventorydomain.InventoryCard
		err := s.db.WithContext(ctx).
			Where("brand_id = ? AND denomination = ? AND status = ?",
				brandID, denomination, inventorydomain.StatusAvailable).
			Order("id asc").
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, err
		}

		now := time.Now().UTC()
		result := s.db.WithContext(ctx).Exec(
			`UPDATE inventory_cards
			SET status = ?, assigned_recipient_id = ?, assigned_campaign_id = ?, assigned_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			inventorydomain.StatusAssigned, recipientID, campaignID, now, now,
			candidate.ID, inventorydomain.StatusAvailable,
		)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			// Lost the race for this card; another request assigned it
			// between our read and write.
			s.obsMetrics.RecordClaimConflict(ctx)
			s.log.Debug("claim conflict, retrying",
				zap.String("card_id", candidate.ID.String()),
				zap.Int("attempt", attempt+1),
			)
			continue
		}

		candidate.Status = inventorydomain.StatusAssigned
		candidate.AssignedRecipientID = &recipientID
		candidate.AssignedCampaignID = &campaignID
		candidate.AssignedAt = &now
		candidate.UpdatedAt = now
		return &candidate, nil
	}

	// Exhausted retries under heavy contention; treat as empty pool and let
	// the caller fall through to the vendor.
	return nil, nil
}

// claimPostgres takes one row with FOR UPDATE SKIP LOCKED so concurrent
// claimers never queue on the same card.
func (s *Service) claimPostgres(ctx context.Context, brandID snowflake.ID, denomination int64, campaignID, recipientID snowflake.ID) (*inventorydomain.InventoryCard, error) {
	var claimed inventorydomain.InventoryCard
	found := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.Raw(
			`UPDATE inventory_cards
			SET status = ?, assigned_recipient_id = ?, assigned_campaign_id = ?, assigned_at = ?, updated_at = ?
			WHERE id = (
				SELECT id FROM inventory_cards
				WHERE brand_id = ? AND denomination = ? AND status = ?
				ORDER BY id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING *`,
			inventorydomain.StatusAssigned, recipientID, campaignID, now, now,
			brandID, denomination, inventorydomain.StatusAvailable,
		).Scan(&claimed)
		if result.Error != nil {
			return result.Error
		}
		found = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &claimed, nil
}

// InsertVendorCard persists a vendor-issued card already bound to its
// recipient. The card never passes through the available pool.
func (s *Service) InsertVendorCard(ctx context.Context, card *inventorydomain.InventoryCard) error {
	if card == nil || strings.TrimSpace(card.Code) == "" {
		return inventorydomain.ErrInvalidCardCode
	}
	if card.Denomination <= 0 {
		return inventorydomain.ErrInvalidDenomination
	}

	now := time.Now().UTC()
	if card.ID == 0 {
		card.ID = s.genID.Generate()
	}
	card.Status = inventorydomain.StatusAssigned
	card.CostSource = inventorydomain.CostSourceVendor
	if card.AssignedAt == nil {
		card.AssignedAt = &now
	}
	card.CreatedAt = now
	card.UpdatedAt = now

	return s.db.WithContext(ctx).Create(card).Error
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*inventorydomain.InventoryCard, error) {
	if id == 0 {
		return nil, inventorydomain.ErrCardNotFound
	}

	var card inventorydomain.InventoryCard
	if err := s.db.WithContext(ctx).First(&card, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventorydomain.ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// Revoke transitions an assigned or delivered card to revoked. The reason is
// mandatory and must carry enough detail to audit later (at least 10 chars
// after trimming). returnToPool instead puts the card back to available for
// re-claim, clearing the assignment either way.
func (s *Service) Revoke(ctx context.Context, cardID snowflake.ID, reason string, returnToPool bool) (*inventorydomain.RevokeResult, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < inventorydomain.MinRevokeReasonLen {
		return nil, inventorydomain.ErrRevokeReasonTooShort
	}

	card, err := s.Get(ctx, cardID)
	if err != nil {
		return nil, err
	}
	switch card.Status {
	case inventorydomain.StatusRevoked:
		return nil, inventorydomain.ErrAlreadyRevoked
	case inventorydomain.StatusAssigned, inventorydomain.StatusDelivered:
	default:
		return nil, inventorydomain.ErrNotRevocable
	}

	now := time.Now().UTC()
	target := inventorydomain.StatusRevoked
	if returnToPool {
		target = inventorydomain.StatusAvailable
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE inventory_cards
		SET status = ?, assigned_recipient_id = NULL, assigned_campaign_id = NULL, assigned_at = NULL,
			revoke_reason = ?, revoked_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		target, reason, now, now, card.ID, card.Status,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Status changed between read and write.
		return nil, inventorydomain.ErrNotRevocable
	}

	card.Status = target
	card.AssignedRecipientID = nil
	card.AssignedCampaignID = nil
	card.AssignedAt = nil
	card.RevokeReason = &reason
	card.RevokedAt = &now
	card.UpdatedAt = now

	out := &inventorydomain.RevokeResult{Card: card}
	if card.IsVendorSourced() {
		out.Warning = "vendor-sourced card: the vendor purchase is not reversible"
		s.log.Warn("revoked vendor-sourced card; vendor purchase stands",
			zap.String("card_id", card.ID.String()),
			zap.String("reason", reason),
		)
	}

	s.log.Info("card revoked",
		zap.String("card_id", card.ID.String()),
		zap.Bool("returned_to_pool", returnToPool),
	)
	return out, nil
}

// BulkStock creates available cards from pre-parsed rows. The whole batch
// is one transaction: a bad row rejects the upload instead of stocking half.
func (s *Service) BulkStock(ctx context.Context, brandID snowflake.ID, rows []inventorydomain.StockRow) ([]inventorydomain.InventoryCard, error) {
	if brandID == 0 {
		return nil, inventorydomain.ErrCardNotFound
	}
	if len(rows) == 0 {
		return nil, inventorydomain.ErrNoRows
	}

	now := time.Now().UTC()
	cards := make([]inventorydomain.InventoryCard, 0, len(rows))
	for i, row := range rows {
		if row.Denomination <= 0 {
			return nil, fmt.Errorf("row %d: %w", i, inventorydomain.ErrInvalidDenomination)
		}
		code := strings.TrimSpace(row.Code)
		if code == "" {
			return nil, fmt.Errorf("row %d: %w", i, inventorydomain.ErrInvalidCardCode)
		}

		costSource := row.CostSource
		switch costSource {
		case inventorydomain.CostSourceCSV, inventorydomain.CostSourceManual:
		default:
			costSource = inventorydomain.CostSourceCSV
		}

		cards = append(cards, inventorydomain.InventoryCard{
			ID:             s.genID.Generate(),
			BrandID:        brandID,
			Denomination:   row.Denomination,
			Code:           code,
			Number:         row.Number,
			ExpirationDate: row.ExpirationDate,
			Status:         inventorydomain.StatusAvailable,
			CostPerCard:    row.CostPerCard,
			CostSource:     costSource,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(cards, 500).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("inventory stocked",
		zap.String("brand_id", brandID.String()),
		zap.Int("cards", len(cards)),
	)
	return cards, nil
}

func (s *Service) Availability(ctx context.Context, brandID snowflake.ID) ([]inventorydomain.DenominationCount, error) {
	if brandID == 0 {
		return nil, inventorydomain.ErrCardNotFound
	}

	var counts []inventorydomain.DenominationCount
	err := s.db.WithContext(ctx).Raw(
		`SELECT denomination, COUNT(*) AS available
		FROM inventory_cards
		WHERE brand_id = ? AND status = ?
		GROUP BY denomination
		ORDER BY denomination ASC`,
		brandID, inventorydomain.StatusAvailable,
	).Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Service) MarkDelivered(ctx context.Context, cardID snowflake.ID) error {
	if cardID == 0 {
		return inventorydomain.ErrCardNotFound
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE inventory_cards SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		inventorydomain.StatusDelivered, time.Now().UTC(),
		cardID, inventorydomain.StatusAssigned,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var card inventorydomain.InventoryCard
		if err := s.db.WithContext(ctx).First(&card, "id = ?", cardID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return inventorydomain.ErrCardNotFound
			}
			return err
		}
		return inventorydomain.ErrNotDeliverable
	}
	return nil
}

// ExpireSweep flips available cards past their expiration date to expired.
// Assigned and delivered cards are left alone; the holder keeps whatever
// the brand honors.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}

	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM inventory_cards
		WHERE status = ? AND expiration_date IS NOT NULL AND expiration_date < ?
		ORDER BY expiration_date ASC
		LIMIT ?`,
		inventorydomain.StatusAvailable, now.UTC(), limit,
	).Scan(&ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE inventory_cards SET status = ?, updated_at = ? WHERE id IN ? AND status = ?`,
		inventorydomain.StatusExpired, now.UTC(), ids, inventorydomain.StatusAvailable,
	)
	if result.Error != nil {
		return 0, result.Error
	}

	expired := int(result.RowsAffected)
	if expired > 0 {
		s.obsMetrics.RecordCardsExpired(ctx, expired)
		s.log.Info("expired stale inventory", zap.Int("cards", expired))
	}
	return expired, nil
}
