package domain

import (
	"context"
	"errors"
	"time"
)

// VendorRequest asks the vendor for one card. IdempotencyToken is stable
// across retries of the same logical request; the vendor must treat a
// repeated token as the same purchase.
type VendorRequest struct {
	BrandCode        string
	Denomination     int64
	Currency         string
	IdempotencyToken string
}

// VendorCard is the vendor's response: an issued, paid-for card.
type VendorCard struct {
	Code           string
	Number         *string
	ExpirationDate *time.Time
	TransactionID  string
	Cost           *int64
}

// Provisioner purchases cards from an external vendor. Implementations do
// no persistence; the inventory store owns the card record.
type Provisioner interface {
	Provider() string
	ProvisionCard(ctx context.Context, req VendorRequest) (*VendorCard, error)
}

// AdapterConfig carries the provider-specific connection settings.
type AdapterConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// CostPerCard is the configured vendor acquisition cost override; zero
	// means the vendor response (or the pricing fallback chain) decides.
	CostPerCard int64
}

// Factory builds a Provisioner from config, one per provider name.
type Factory interface {
	Provider() string
	NewProvisioner(cfg AdapterConfig) (Provisioner, error)
}

var (
	ErrProviderNotFound = errors.New("vendor_provider_not_found")
	ErrInvalidConfig    = errors.New("vendor_invalid_config")
	ErrInvalidRequest   = errors.New("vendor_invalid_request")
	ErrVendorFailure    = errors.New("vendor_provisioning_failed")
)
