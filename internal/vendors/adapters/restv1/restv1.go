package restv1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	obstracing "github.com/Phillboard/mobul-sub000/internal/observability/tracing"
	"github.com/Phillboard/mobul-sub000/internal/vendors/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "restv1"
}

func (f *Factory) NewProvisioner(cfg domain.AdapterConfig) (domain.Provisioner, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, domain.ErrInvalidConfig
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Adapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: timeout,
		}),
	}, nil
}

// Adapter speaks the vendor's JSON-over-HTTP purchase API. Every call is
// bounded by the client timeout and retried at most once on a 5xx, with the
// SAME idempotency token so the vendor never double-purchases.
type Adapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func (a *Adapter) Provider() string {
	return "restv1"
}

type provisionRequest struct {
	BrandCode        string `json:"brand_code"`
	Denomination     int64  `json:"denomination"`
	Currency         string `json:"currency"`
	IdempotencyToken string `json:"idempotency_token"`
}

type provisionResponse struct {
	Code           string  `json:"code"`
	Number         *string `json:"number"`
	ExpirationDate *string `json:"expiration_date"`
	TransactionID  string  `json:"transaction_id"`
	Cost           *int64  `json:"cost"`
	Error          string  `json:"error"`
}

func (a *Adapter) ProvisionCard(ctx context.Context, req domain.VendorRequest) (*domain.VendorCard, error) {
	if strings.TrimSpace(req.BrandCode) == "" || req.Denomination <= 0 || strings.TrimSpace(req.IdempotencyToken) == "" {
		return nil, domain.ErrInvalidRequest
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	body, err := json.Marshal(provisionRequest{
		BrandCode:        req.BrandCode,
		Denomination:     req.Denomination,
		Currency:         currency,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		card, retryable, err := a.doProvision(ctx, body, req.IdempotencyToken)
		if err == nil {
			return card, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (a *Adapter) doProvision(ctx context.Context, body []byte, idempotencyToken string) (*domain.VendorCard, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/cards/provision", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Idempotency-Key", idempotencyToken)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		// Network failures may have reached the vendor; the shared token
		// makes the retry safe.
		return nil, true, fmt.Errorf("%w: %v", domain.ErrVendorFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, fmt.Errorf("%w: read response: %v", domain.ErrVendorFailure, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("%w: vendor returned %d", domain.ErrVendorFailure, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var decoded provisionResponse
		_ = json.Unmarshal(raw, &decoded)
		if decoded.Error != "" {
			return nil, false, fmt.Errorf("%w: %s", domain.ErrVendorFailure, decoded.Error)
		}
		return nil, false, fmt.Errorf("%w: vendor returned %d", domain.ErrVendorFailure, resp.StatusCode)
	}

	var decoded provisionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false, fmt.Errorf("%w: malformed response: %v", domain.ErrVendorFailure, err)
	}
	if strings.TrimSpace(decoded.Code) == "" {
		return nil, false, fmt.Errorf("%w: response missing card code", domain.ErrVendorFailure)
	}

	card := &domain.VendorCard{
		Code:          decoded.Code,
		Number:        decoded.Number,
		TransactionID: decoded.TransactionID,
		Cost:          decoded.Cost,
	}
	if decoded.ExpirationDate != nil {
		if parsed, err := time.Parse(time.RFC3339, *decoded.ExpirationDate); err == nil {
			parsed = parsed.UTC()
			card.ExpirationDate = &parsed
		}
	}
	return card, false, nil
}
