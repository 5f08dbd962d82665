package server

import (
	"net/http"

	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	"github.com/gin-gonic/gin"
)

type bulkStockRequest struct {
	BrandID string                    `json:"brand_id" binding:"required"`
	Rows    []inventorydomain.StockRow `json:"rows" binding:"required"`
}

type bulkStockResponse struct {
	Stocked int                             `json:"stocked"`
	Cards   []inventorydomain.InventoryCard `json:"cards"`
}

func (s *Server) BulkStockInventory(c *gin.Context) {
	var req bulkStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	brandID, err := parseOptionalSnowflakeID(req.BrandID)
	if err != nil || brandID == nil {
		AbortWithError(c, newValidationError("brand_id", "invalid_brand_id", "invalid brand id"))
		return
	}

	cards, err := s.inventorySvc.BulkStock(c.Request.Context(), *brandID, req.Rows)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bulkStockResponse{
		Stocked: len(cards),
		Cards:   cards,
	})
}

type availabilityResponse struct {
	BrandID       string                              `json:"brand_id"`
	Denominations []inventorydomain.DenominationCount `json:"denominations"`
}

func (s *Server) GetInventoryAvailability(c *gin.Context) {
	brandID, err := parseOptionalSnowflakeID(c.Query("brand_id"))
	if err != nil || brandID == nil {
		AbortWithError(c, newValidationError("brand_id", "invalid_brand_id", "invalid brand id"))
		return
	}

	counts, err := s.inventorySvc.Availability(c.Request.Context(), *brandID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, availabilityResponse{
		BrandID:       brandID.String(),
		Denominations: counts,
	})
}

type revokeCardRequest struct {
	Reason       string `json:"reason" binding:"required"`
	ReturnToPool bool   `json:"return_to_pool"`
}

func (s *Server) RevokeCard(c *gin.Context) {
	cardID, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || cardID == nil {
		AbortWithError(c, newValidationError("id", "invalid_card_id", "invalid card id"))
		return
	}

	var req revokeCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.inventorySvc.Revoke(c.Request.Context(), *cardID, req.Reason, req.ReturnToPool)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) DeliverCard(c *gin.Context) {
	cardID, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || cardID == nil {
		AbortWithError(c, newValidationError("id", "invalid_card_id", "invalid card id"))
		return
	}

	if err := s.inventorySvc.MarkDelivered(c.Request.Context(), *cardID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "delivered"})
}
