// Package provider implements the HTTP client for the Privy custody API:
// user, wallet, key-quorum and wallet-policy CRUD over Basic auth.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"family-custody/internal/interfaces"
	"family-custody/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Aliased so callers of this package can match without importing interfaces.
var (
	ErrNoWalletOnFile = interfaces.ErrNoWalletOnFile
	ErrNoEmailOnFile  = interfaces.ErrNoEmailOnFile
)

// Client is a rate-limited HTTP client for the wallet provider.
type Client struct {
	BaseURL     string
	RateLimiter *rate.Limiter
	Logger      *zerolog.Logger
	HTTPClient  *http.Client
}

// authTransport adds Basic auth and the app id header to every request.
type authTransport struct {
	Base      http.RoundTripper
	AppID     string
	AppSecret string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("privy-app-id", t.AppID)
	req.SetBasicAuth(t.AppID, t.AppSecret)
	return t.Base.RoundTrip(req)
}

// NewClient creates a new provider client with the given configuration
func NewClient(baseURL, appID, appSecret string, rateLimit float64, timeout time.Duration, logger *zerolog.Logger) *Client {
	return &Client{
		BaseURL:     baseURL,
		RateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		Logger:      logger,
		HTTPClient: &http.Client{
			Timeout: timeout,
			Transport: &authTransport{
				Base:      http.DefaultTransport,
				AppID:     appID,
				AppSecret: appSecret,
			},
		},
	}
}

type linkedAccount struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

type userResponse struct {
	ID             string          `json:"id"`
	LinkedAccounts []linkedAccount `json:"linked_accounts"`
}

type walletResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	OwnerID string `json:"owner_id"`
}

type quorumResponse struct {
	ID string `json:"id"`
}

type policyRequest struct {
	WalletID    string   `json:"wallet_id,omitempty"`
	SignerIDs   []string `json:"signer_ids"`
	LockedUntil int64    `json:"locked_until,omitempty"`
}

type policyResponse struct {
	ID          string   `json:"id"`
	WalletID    string   `json:"wallet_id"`
	SignerIDs   []string `json:"signer_ids"`
	LockedUntil int64    `json:"locked_until"`
}

// CreateUser registers a new provider user linked to the given email.
func (c *Client) CreateUser(ctx context.Context, email string) (*models.ProviderUser, error) {
	body := map[string]interface{}{
		"linked_accounts": []linkedAccount{{Type: "email", Address: email}},
	}

	var resp userResponse
	if err := c.do(ctx, http.MethodPost, "/users", body, &resp); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return toUser(resp), nil
}

// GetUser fetches a provider user with its linked accounts.
func (c *Client) GetUser(ctx context.Context, userID string) (*models.ProviderUser, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/users/"+userID, nil, &resp); err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}

	return toUser(resp), nil
}

// GetUserWalletAddress resolves the first embedded-wallet address linked to
// the user.
func (c *Client) GetUserWalletAddress(ctx context.Context, userID string) (string, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	for _, acct := range user.LinkedAccounts {
		if acct.Type == "wallet" && acct.Address != "" {
			return acct.Address, nil
		}
	}

	return "", ErrNoWalletOnFile
}

// GetUserEmail resolves the user's contact email.
func (c *Client) GetUserEmail(ctx context.Context, userID string) (string, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	for _, acct := range user.LinkedAccounts {
		if acct.Type == "email" && acct.Address != "" {
			return acct.Address, nil
		}
	}

	return "", ErrNoEmailOnFile
}

// CreateKeyQuorum creates a signer group usable as a wallet owner. Any
// threshold-sized subset of members can authorize an action.
func (c *Client) CreateKeyQuorum(ctx context.Context, memberUserIDs []string, threshold int) (string, error) {
	body := map[string]interface{}{
		"user_ids":                memberUserIDs,
		"authorization_threshold": threshold,
	}

	var resp quorumResponse
	if err := c.do(ctx, http.MethodPost, "/key_quorums", body, &resp); err != nil {
		return "", fmt.Errorf("create key quorum: %w", err)
	}

	return resp.ID, nil
}

// CreateWallet provisions an ethereum wallet owned by ownerID, which may be a
// user id or a key-quorum id.
func (c *Client) CreateWallet(ctx context.Context, ownerID string) (*models.ProviderWallet, error) {
	body := map[string]interface{}{
		"chain_type": "ethereum",
		"owner_id":   ownerID,
	}

	var resp walletResponse
	if err := c.do(ctx, http.MethodPost, "/wallets", body, &resp); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	return &models.ProviderWallet{ID: resp.ID, Address: resp.Address, OwnerID: resp.OwnerID}, nil
}

// CreateWalletPolicy attaches a signer policy to a wallet.
func (c *Client) CreateWalletPolicy(ctx context.Context, walletID string, signerIDs []string, lockedUntil int64) (string, error) {
	var resp policyResponse
	req := policyRequest{WalletID: walletID, SignerIDs: signerIDs, LockedUntil: lockedUntil}
	if err := c.do(ctx, http.MethodPost, "/policies", req, &resp); err != nil {
		return "", fmt.Errorf("create policy for wallet %s: %w", walletID, err)
	}

	return resp.ID, nil
}

// GetWalletPolicy returns the current signer policy of a wallet.
func (c *Client) GetWalletPolicy(ctx context.Context, walletID string) (*models.WalletPolicy, error) {
	var resp policyResponse
	if err := c.do(ctx, http.MethodGet, "/wallets/"+walletID+"/policy", nil, &resp); err != nil {
		return nil, fmt.Errorf("get policy for wallet %s: %w", walletID, err)
	}

	return &models.WalletPolicy{
		ID:          resp.ID,
		WalletID:    resp.WalletID,
		SignerIDs:   resp.SignerIDs,
		LockedUntil: resp.LockedUntil,
	}, nil
}

// UpdateWalletPolicy replaces the signer set and time-lock of a policy.
func (c *Client) UpdateWalletPolicy(ctx context.Context, policyID string, signerIDs []string, lockedUntil int64) error {
	req := policyRequest{SignerIDs: signerIDs, LockedUntil: lockedUntil}
	if err := c.do(ctx, http.MethodPatch, "/policies/"+policyID, req, nil); err != nil {
		return fmt.Errorf("update policy %s: %w", policyID, err)
	}

	return nil
}

// GasSponsorshipEnabled reports whether gas sponsorship is active for the
// chain. Callers treat the answer as advisory.
func (c *Client) GasSponsorshipEnabled(ctx context.Context, chain models.ChainName) (bool, error) {
	var resp struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.do(ctx, http.MethodGet, "/gas_sponsorship?chain="+chain.String(), nil, &resp); err != nil {
		return false, fmt.Errorf("gas sponsorship check: %w", err)
	}

	return resp.Enabled, nil
}

// do performs one rate-limited JSON request against the provider API.
func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	if err := c.RateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.Logger.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Provider API returned non-2xx")
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(data))
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func toUser(resp userResponse) *models.ProviderUser {
	user := &models.ProviderUser{ID: resp.ID}
	for _, acct := range resp.LinkedAccounts {
		if acct.Type == "email" && user.Email == "" {
			user.Email = acct.Address
		}
		user.LinkedAccounts = append(user.LinkedAccounts, models.LinkedAccount{
			Type:    acct.Type,
			Address: acct.Address,
		})
	}
	return user
}
