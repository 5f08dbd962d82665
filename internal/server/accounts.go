package server

import (
	"net/http"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateAgency(c *gin.Context) {
	var req accountdomain.CreateAgencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.accountSvc.CreateAgency(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAgencies(c *gin.Context) {
	resp, err := s.accountSvc.ListAgencies(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAgencyByID(c *gin.Context) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError("id", "invalid_agency_id", "invalid agency id"))
		return
	}

	resp, err := s.accountSvc.GetAgency(c.Request.Context(), *id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AdjustAgencyCredits(c *gin.Context) {
	s.adjustCredits(c, accountdomain.EntityTypeAgency)
}

func (s *Server) CreateClient(c *gin.Context) {
	var req accountdomain.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.accountSvc.CreateClient(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListClients(c *gin.Context) {
	resp, err := s.accountSvc.ListClients(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetClientByID(c *gin.Context) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError("id", "invalid_client_id", "invalid client id"))
		return
	}

	resp, err := s.accountSvc.GetClient(c.Request.Context(), *id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AdjustClientCredits(c *gin.Context) {
	s.adjustCredits(c, accountdomain.EntityTypeClient)
}

type adjustCreditsRequest struct {
	Delta int64 `json:"delta" binding:"required"`
}

func (s *Server) adjustCredits(c *gin.Context, entityType accountdomain.EntityType) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError("id", "invalid_entity_id", "invalid entity id"))
		return
	}

	var req adjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.accountSvc.AdjustCredits(c.Request.Context(), entityType, *id, req.Delta); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": creditAdjustment{
		EntityType: entityType,
		EntityID:   *id,
		Delta:      req.Delta,
	}})
}

type creditAdjustment struct {
	EntityType accountdomain.EntityType `json:"entity_type"`
	EntityID   snowflake.ID             `json:"entity_id"`
	Delta      int64                    `json:"delta"`
}
