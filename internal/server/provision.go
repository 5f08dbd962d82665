package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	checkpointdomain "github.com/Phillboard/mobul-sub000/internal/checkpoint/domain"
	provisioningdomain "github.com/Phillboard/mobul-sub000/internal/provisioning/domain"
	"github.com/gin-gonic/gin"
)

// ProvisionRateLimit gates the provisioning endpoints behind the redis token
// bucket. Disabled limiter means no gate; redis outages fail open inside
// Allow.
func (s *Server) ProvisionRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		result, err := s.limiter.Allow(c.Request.Context(), provisionCaller(c))
		if err != nil || result == nil {
			c.Next()
			return
		}

		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrTooManyRequest)
			return
		}

		c.Next()
	}
}

// provisionCaller picks the identity the token bucket keys on. Clients that
// pass X-Caller-Id get a dedicated bucket; everyone else shares per source IP.
func provisionCaller(c *gin.Context) string {
	if caller := strings.TrimSpace(c.GetHeader("X-Caller-Id")); caller != "" {
		return caller
	}
	return c.ClientIP()
}

func (s *Server) Provision(c *gin.Context) {
	s.handleProvision(c, s.provisioner.Provision)
}

func (s *Server) ProvisionCallCenter(c *gin.Context) {
	s.handleProvision(c, s.provisioner.ProvisionAndNotify)
}

func (s *Server) ProvisionSandbox(c *gin.Context) {
	s.handleProvision(c, s.provisioner.ProvisionSandbox)
}

// handleProvision binds the request and runs one engine entry point. Engine
// outcomes, success or structured failure, always answer 200; only a request
// body the engine never saw gets a 400.
func (s *Server) handleProvision(c *gin.Context, entry func(ctx context.Context, req provisioningdomain.ProvisionRequest) provisioningdomain.Result) {
	var req provisioningdomain.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()

	lockToken, acquired, _ := s.limiter.TryLockRecipient(ctx, req.CampaignID.String(), req.RecipientID.String())
	if !acquired {
		c.Header("Retry-After", "1")
		AbortWithError(c, ErrTooManyRequest)
		return
	}
	defer func() {
		_ = s.limiter.ReleaseRecipient(ctx, req.CampaignID.String(), req.RecipientID.String(), lockToken)
	}()

	result := entry(ctx, req)
	c.JSON(http.StatusOK, result)
}

type checkpointTrailResponse struct {
	RequestID   string                        `json:"request_id"`
	Checkpoints []checkpointdomain.Checkpoint `json:"checkpoints"`
}

func (s *Server) GetProvisionCheckpoints(c *gin.Context) {
	requestID := strings.TrimSpace(c.Param("request_id"))
	if requestID == "" {
		AbortWithError(c, newValidationError("request_id", "invalid_request_id", "request id is required"))
		return
	}

	trail, err := s.checkpointSvc.Trail(c.Request.Context(), requestID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(trail) == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, checkpointTrailResponse{
		RequestID:   requestID,
		Checkpoints: trail,
	})
}
