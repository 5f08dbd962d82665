package server

import (
	"net/http"

	branddomain "github.com/Phillboard/mobul-sub000/internal/brand/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateBrand(c *gin.Context) {
	var req branddomain.CreateBrandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.brandSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListBrands(c *gin.Context) {
	resp, err := s.brandSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBrandByID(c *gin.Context) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError("id", "invalid_brand_id", "invalid brand id"))
		return
	}

	resp, err := s.brandSvc.Get(c.Request.Context(), *id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type setBrandEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) SetBrandEnabled(c *gin.Context) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError("id", "invalid_brand_id", "invalid brand id"))
		return
	}

	var req setBrandEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.brandSvc.SetEnabled(c.Request.Context(), *id, *req.Enabled); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id.String(), "enabled": *req.Enabled}})
}
