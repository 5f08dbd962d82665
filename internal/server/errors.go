package server

import (
	"errors"
	"net/http"
	"strings"

	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	branddomain "github.com/Phillboard/mobul-sub000/internal/brand/domain"
	campaigndomain "github.com/Phillboard/mobul-sub000/internal/campaign/domain"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	ledgerdomain "github.com/Phillboard/mobul-sub000/internal/ledger/domain"
	pricingdomain "github.com/Phillboard/mobul-sub000/internal/pricing/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrTooManyRequest = errors.New("too_many_requests")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, branddomain.ErrDuplicateSlug),
		errors.Is(err, inventorydomain.ErrAlreadyRevoked):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, ErrTooManyRequest):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, branddomain.ErrInvalidName),
		errors.Is(err, branddomain.ErrInvalidBrandID),
		errors.Is(err, accountdomain.ErrInvalidName),
		errors.Is(err, campaigndomain.ErrInvalidName),
		errors.Is(err, campaigndomain.ErrInvalidCampaignID),
		errors.Is(err, inventorydomain.ErrInvalidDenomination),
		errors.Is(err, inventorydomain.ErrInvalidCardCode),
		errors.Is(err, inventorydomain.ErrRevokeReasonTooShort),
		errors.Is(err, inventorydomain.ErrNotDeliverable),
		errors.Is(err, pricingdomain.ErrInvalidDenomination),
		errors.Is(err, pricingdomain.ErrInvalidBrandID),
		errors.Is(err, pricingdomain.ErrNegativePrice),
		errors.Is(err, ledgerdomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, branddomain.ErrBrandNotFound),
		errors.Is(err, branddomain.ErrBrandDisabled),
		errors.Is(err, accountdomain.ErrAgencyNotFound),
		errors.Is(err, accountdomain.ErrClientNotFound),
		errors.Is(err, campaigndomain.ErrCampaignNotFound),
		errors.Is(err, campaigndomain.ErrRecipientNotFound),
		errors.Is(err, inventorydomain.ErrCardNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
