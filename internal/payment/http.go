package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// tokenExpiredCode is the bridge's error string for an expired OAuth token.
const tokenExpiredCode = "TOKEN_EXPIRED"

// HTTPClient implements Provider against the payment bridge service.
type HTTPClient struct {
	baseURL  string
	appToken string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPClient creates a bridge client. appToken, when set, is used for charges
// instead of the player's own token.
func NewHTTPClient(baseURL, appToken string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		appToken: appToken,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

type moneyRequest struct {
	AccessToken string      `json:"accessToken"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	UserID      string      `json:"userId,omitempty"`
	PayeeID     string      `json:"payeeId,omitempty"`
	Reference   string      `json:"reference"`
}

type tokenRequest struct {
	AccessToken string `json:"accessToken"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type bridgeResponse struct {
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	Balance     json.RawMessage `json:"balance,omitempty"`
	WalletID    string          `json:"wallet_id,omitempty"`
	AccessToken string          `json:"accessToken,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

// Charge debits the player's wallet.
func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) error {
	token := req.Account.AccessToken
	if c.appToken != "" {
		token = c.appToken
	}
	_, err := c.post(ctx, "/charge", moneyRequest{
		AccessToken: token,
		Amount:      amountNumber(req.Amount),
		Description: req.Description,
		UserID:      req.Account.WalletID,
		Reference:   req.Reference.String(),
	})
	return err
}

// Payout credits the player's wallet using the player's own token.
func (c *HTTPClient) Payout(ctx context.Context, req PayoutRequest) error {
	_, err := c.post(ctx, "/payout", moneyRequest{
		AccessToken: req.Account.AccessToken,
		Amount:      amountNumber(req.Amount),
		Description: req.Description,
		UserID:      req.Account.WalletID,
		PayeeID:     req.Account.PayeeID,
		Reference:   req.Reference.String(),
	})
	return err
}

// Balance fetches the wallet balance and the wallet id the token belongs to.
func (c *HTTPClient) Balance(ctx context.Context, acct Account) (*Balance, error) {
	resp, err := c.post(ctx, "/balance", tokenRequest{AccessToken: acct.AccessToken})
	if err != nil {
		return nil, err
	}
	return &Balance{Raw: rawBalance(resp.Balance), WalletID: resp.WalletID}, nil
}

// Validate checks that the player's token is still accepted.
func (c *HTTPClient) Validate(ctx context.Context, acct Account) error {
	_, err := c.post(ctx, "/validate", tokenRequest{AccessToken: acct.AccessToken})
	return err
}

// ExchangeCode trades an OAuth authorization code for a credential.
func (c *HTTPClient) ExchangeCode(ctx context.Context, code string) (*Credential, error) {
	resp, err := c.post(ctx, "/oauth/exchange", codeRequest{Code: code})
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: exchange returned no access token", ErrRejected)
	}
	return &Credential{
		AccessToken: resp.AccessToken,
		UserID:      resp.UserID,
		ExpiresAt:   resp.ExpiresAt,
	}, nil
}

// post sends body to path and classifies the outcome into the package errors.
func (c *HTTPClient) post(ctx context.Context, path string, body any) (*bridgeResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", path, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Payment bridge request failed")
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s response", ErrUnavailable, path)
	}

	var parsed bridgeResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%w: malformed %s response", ErrUnavailable, path)
		}
	}

	if parsed.Error == tokenExpiredCode || resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrTokenExpired
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 || !parsed.Success {
		reason := parsed.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &RejectedError{Reason: reason}
	}

	return &parsed, nil
}

// RejectedError carries the bridge's reason for refusing a request.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "payment rejected: " + e.Reason
}

// Is lets errors.Is(err, ErrRejected) match.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Reason extracts a human-readable failure reason from a provider error.
func Reason(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func amountNumber(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func rawBalance(msg json.RawMessage) string {
	if len(msg) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	return string(msg)
}
