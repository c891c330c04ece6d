// Package custody is the HTTP client for the external key-custody service.
// The service runs the threshold key-generation ceremony and every signing
// operation; this package only moves opaque key-share bundles to and from it.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/better-wallet/custody/internal/logger"
	"github.com/better-wallet/custody/internal/metrics"
	"github.com/better-wallet/custody/pkg/types"
)

// ThresholdTwoOfTwo is the only signature scheme requested from the service
const ThresholdTwoOfTwo = "TWO_OF_TWO"

// Chain names understood by the custody service
const (
	ChainNameEVM    = "EVM"
	ChainNameSolana = "SVM"
)

// Sign kinds
const (
	SignKindMessage     = "message"
	SignKindTransaction = "transaction"
)

// Config holds custody service connection settings
type Config struct {
	BaseURL           string
	EnvironmentID     string
	APIToken          string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// CreateAccountRequest asks the service to run a key-generation ceremony
type CreateAccountRequest struct {
	ChainName                  string `json:"chainName"`
	NetworkID                  string `json:"networkId,omitempty"`
	UserID                     string `json:"userId,omitempty"`
	ThresholdSignatureScheme   string `json:"thresholdSignatureScheme"`
	BackUpToClientShareService bool   `json:"backUpToClientShareService"`
}

// Account is a freshly created custody account
type Account struct {
	Address   string
	KeyShares types.KeyShareBundle
}

// SignRequest asks the service to sign a payload with the given key shares.
// For transactions Payload is the chain-native unsigned encoding.
type SignRequest struct {
	ChainName string
	Kind      string
	Address   string
	NetworkID string
	Payload   string
	KeyShares types.KeyShareBundle
}

// Signature is the result of a signing call. Message signing sets Signature;
// transaction signing sets SignedTransaction, or only Signature for chains where
// the caller attaches it to the transaction it built.
type Signature struct {
	Signature         string
	SignedTransaction string
}

// Signer is the capability chain clients need from the custody service
type Signer interface {
	CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error)
	Sign(ctx context.Context, req *SignRequest) (*Signature, error)
}

// APIError is a non-2xx response from the custody service
type APIError struct {
	Operation string
	Status    int
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("custody %s failed (status %d): %s", e.Operation, e.Status, e.Message)
}

// HTTPStatus exposes the response status for error classification
func (e *APIError) HTTPStatus() int {
	return e.Status
}

// safeResponseFields are the only custody response fields that may be logged
var safeResponseFields = []string{"accountAddress", "chainName", "networkId", "rawPublicKey"}

// Client talks to the custody service over HTTP with a bearer token
// obtained from the configured API token.
type Client struct {
	baseURL       string
	environmentID string
	apiToken      string
	httpClient    *http.Client
	limiter       *rate.Limiter

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	now func() time.Time
}

// NewClient creates a new custody service client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("custody base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid custody base URL: %w", err)
	}
	if cfg.EnvironmentID == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("custody environment ID and API token are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		environmentID: cfg.EnvironmentID,
		apiToken:      cfg.APIToken,
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(limit, burst),
		now:           time.Now,
	}, nil
}

type authResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Authenticate exchanges the API token for a short-lived bearer token
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	var resp authResponse
	err := c.do(ctx, "authenticate", "/auth/token", c.apiToken, map[string]string{"apiToken": c.apiToken}, &resp)
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("custody authenticate returned an empty token")
	}

	c.accessToken = resp.Token
	c.expiresAt = resp.ExpiresAt
	return nil
}

// bearer returns a valid access token, authenticating first when needed
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Refresh a minute early so a token never expires mid-request
	if c.accessToken == "" || (!c.expiresAt.IsZero() && c.now().Add(time.Minute).After(c.expiresAt)) {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.accessToken, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.accessToken = ""
	c.mu.Unlock()
}

type createAccountResponse struct {
	AccountAddress          string          `json:"accountAddress"`
	ExternalServerKeyShares json.RawMessage `json:"externalServerKeyShares"`
	RawPublicKey            string          `json:"rawPublicKey,omitempty"`
}

// CreateAccount runs the key-generation ceremony and returns the new address
// with this system's key-share bundle.
func (c *Client) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error) {
	body := *req
	if body.ThresholdSignatureScheme == "" {
		body.ThresholdSignatureScheme = ThresholdTwoOfTwo
	}

	var resp createAccountResponse
	if err := c.authorized(ctx, "create_account", "/wallets", &body, &resp); err != nil {
		return nil, err
	}

	logger.Info(ctx, "custody account created", logger.SafeFields(map[string]any{
		"accountAddress": resp.AccountAddress,
		"chainName":      body.ChainName,
		"networkId":      body.NetworkID,
		"rawPublicKey":   resp.RawPublicKey,
	}, safeResponseFields...)...)

	if resp.AccountAddress == "" || len(resp.ExternalServerKeyShares) == 0 {
		return nil, fmt.Errorf("custody create account returned an incomplete account")
	}

	return &Account{
		Address:   resp.AccountAddress,
		KeyShares: types.KeyShareBundle(resp.ExternalServerKeyShares),
	}, nil
}

type signRequestBody struct {
	ChainName               string          `json:"chainName"`
	Kind                    string          `json:"kind"`
	NetworkID               string          `json:"networkId,omitempty"`
	Message                 string          `json:"message,omitempty"`
	Transaction             string          `json:"transaction,omitempty"`
	ExternalServerKeyShares json.RawMessage `json:"externalServerKeyShares"`
}

type signResponse struct {
	Signature         string `json:"signature"`
	SignedTransaction string `json:"signedTransaction"`
}

// Sign signs a message or a transaction with the account's key shares
func (c *Client) Sign(ctx context.Context, req *SignRequest) (*Signature, error) {
	if len(req.KeyShares) == 0 {
		return nil, fmt.Errorf("key shares are required to sign")
	}

	body := &signRequestBody{
		ChainName:               req.ChainName,
		Kind:                    req.Kind,
		NetworkID:               req.NetworkID,
		ExternalServerKeyShares: json.RawMessage(req.KeyShares),
	}
	switch req.Kind {
	case SignKindMessage:
		body.Message = req.Payload
	case SignKindTransaction:
		body.Transaction = req.Payload
	default:
		return nil, fmt.Errorf("unknown sign kind: %s", req.Kind)
	}

	var resp signResponse
	path := "/wallets/" + url.PathEscape(req.Address) + "/sign"
	if err := c.authorized(ctx, "sign_"+req.Kind, path, body, &resp); err != nil {
		return nil, err
	}

	if req.Kind == SignKindMessage && resp.Signature == "" {
		return nil, fmt.Errorf("custody sign returned an empty signature")
	}
	if req.Kind == SignKindTransaction && resp.SignedTransaction == "" && resp.Signature == "" {
		return nil, fmt.Errorf("custody sign returned an empty transaction")
	}

	return &Signature{Signature: resp.Signature, SignedTransaction: resp.SignedTransaction}, nil
}

func (c *Client) authorized(ctx context.Context, op, path string, in, out any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	err = c.do(ctx, op, path, token, in, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.invalidate()
	}
	return err
}

func (c *Client) do(ctx context.Context, op, path, token string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
		}
		metrics.RecordCustodyRequest(op, status, time.Since(start).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("custody rate limiter: %w", err)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode custody request: %w", err)
	}

	endpoint := c.baseURL + "/environments/" + url.PathEscape(c.environmentID) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build custody request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("custody %s request: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("custody %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Operation: op, Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode custody %s response: %w", op, err)
		}
	}
	return nil
}

// errorMessage extracts a readable message from an error body without echoing it wholesale
func errorMessage(status int, raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return http.StatusText(status)
	}
	return text
}

var _ Signer = (*Client)(nil)
