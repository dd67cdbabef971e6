package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acme/outbound-survey/internal/config"
	"github.com/acme/outbound-survey/internal/telephony"
	apperrors "github.com/acme/outbound-survey/pkg/errors"
)

// Provider places calls through the speech-LLM telephony bridge HTTP API.
type Provider struct {
	baseURL    string
	accountSID string
	authToken  string
	httpClient *http.Client
}

// NewProvider constructs the HTTP provider from config.
func NewProvider(cfg config.TelephonyConfig) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: telephony base_url is required", apperrors.ErrConfiguration)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: telephony credentials are required", apperrors.ErrConfiguration)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Provider{
		baseURL:    cfg.BaseURL,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type placeCallResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PlaceCall submits the dial request. A missing provider call id in the
// response is treated as a provider error.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return telephony.CallResult{}, fmt.Errorf("telephony: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return telephony.CallResult{}, fmt.Errorf("%w: telephony: build request: %v", apperrors.ErrConfiguration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return telephony.CallResult{}, fmt.Errorf("telephony: place call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return telephony.CallResult{}, fmt.Errorf("telephony: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return telephony.CallResult{}, fmt.Errorf("%w: telephony: auth rejected (%d)", apperrors.ErrPermanent, resp.StatusCode)
	case resp.StatusCode >= 500:
		return telephony.CallResult{}, fmt.Errorf("%w: telephony: provider error %d: %s", apperrors.ErrUnavailable, resp.StatusCode, raw)
	case resp.StatusCode >= 400:
		return telephony.CallResult{}, fmt.Errorf("telephony: provider rejected request %d: %s", resp.StatusCode, raw)
	}

	var parsed placeCallResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return telephony.CallResult{}, fmt.Errorf("telephony: decode response: %w", err)
	}
	if parsed.CallID == "" {
		return telephony.CallResult{}, fmt.Errorf("telephony: response missing call_id (status %q)", parsed.Status)
	}

	return telephony.CallResult{ProviderCallID: parsed.CallID, Status: parsed.Status}, nil
}
