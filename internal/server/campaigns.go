package server

import (
	"net/http"

	campaigndomain "github.com/Phillboard/mobul-sub000/internal/campaign/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateCampaign(c *gin.Context) {
	var req campaigndomain.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.campaignSvc.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCampaigns(c *gin.Context) {
	resp, err := s.campaignSvc.ListCampaigns(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCampaignByID(c *gin.Context) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError("id", "invalid_campaign_id", "invalid campaign id"))
		return
	}

	resp, err := s.campaignSvc.GetCampaign(c.Request.Context(), *id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateRecipient(c *gin.Context) {
	var req campaigndomain.CreateRecipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.campaignSvc.CreateRecipient(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListRecipients(c *gin.Context) {
	campaignID, err := parseOptionalSnowflakeID(c.Query("campaign_id"))
	if err != nil || campaignID == nil {
		AbortWithError(c, newValidationError("campaign_id", "invalid_campaign_id", "invalid campaign id"))
		return
	}

	resp, err := s.campaignSvc.ListRecipients(c.Request.Context(), *campaignID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRecipientByID(c *gin.Context) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError("id", "invalid_recipient_id", "invalid recipient id"))
		return
	}

	resp, err := s.campaignSvc.GetRecipient(c.Request.Context(), *id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
