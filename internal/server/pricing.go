package server

import (
	"net/http"

	pricingdomain "github.com/Phillboard/mobul-sub000/internal/pricing/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) UpsertPricing(c *gin.Context) {
	var req pricingdomain.UpsertPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.pricingSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPricing(c *gin.Context) {
	brandID, err := parseOptionalSnowflakeID(c.Query("brand_id"))
	if err != nil || brandID == nil {
		AbortWithError(c, newValidationError("brand_id", "invalid_brand_id", "invalid brand id"))
		return
	}

	resp, err := s.pricingSvc.List(c.Request.Context(), *brandID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
