package server

import (
	"net/http"
	"strings"
	"time"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	ledgerdomain "github.com/Phillboard/mobul-sub000/internal/ledger/domain"
	"github.com/Phillboard/mobul-sub000/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

const (
	defaultReconcileWindow = 72 * time.Hour
	maxReconcileFindings   = 500
)

func (s *Server) ListLedgerEntries(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := ledgerdomain.ListRequest{Pagination: page}

	if raw := strings.TrimSpace(c.Query("entity_type")); raw != "" {
		entityType := accountdomain.EntityType(raw)
		if entityType != accountdomain.EntityTypeAgency && entityType != accountdomain.EntityTypeClient {
			AbortWithError(c, newValidationError("entity_type", "invalid_entity_type", "invalid entity type"))
			return
		}
		req.EntityType = entityType
	}

	entityID, err := parseOptionalSnowflakeID(c.Query("entity_id"))
	if err != nil {
		AbortWithError(c, newValidationError("entity_id", "invalid_entity_id", "invalid entity id"))
		return
	}
	if entityID != nil {
		req.EntityID = *entityID
	}

	campaignID, err := parseOptionalSnowflakeID(c.Query("campaign_id"))
	if err != nil {
		AbortWithError(c, newValidationError("campaign_id", "invalid_campaign_id", "invalid campaign id"))
		return
	}
	if campaignID != nil {
		req.CampaignID = *campaignID
	}

	resp, err := s.ledgerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type reconciliationResponse struct {
	Since time.Time                  `json:"since"`
	Gaps  []ledgerdomain.UnbilledCard `json:"gaps"`
	Count int                        `json:"count"`
}

// GetReconciliationGaps surfaces cards that left the pool without a ledger
// entry. Read-only: repair stays a manual operation.
func (s *Server) GetReconciliationGaps(c *gin.Context) {
	since, err := parseOptionalTime(c.Query("since"), false)
	if err != nil {
		AbortWithError(c, newValidationError("since", "invalid_time", "invalid since timestamp"))
		return
	}
	if since == nil {
		from := time.Now().UTC().Add(-defaultReconcileWindow)
		since = &from
	}

	gaps, err := s.ledgerSvc.UnbilledCards(c.Request.Context(), *since, maxReconcileFindings)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, reconciliationResponse{
		Since: *since,
		Gaps:  gaps,
		Count: len(gaps),
	})
}
