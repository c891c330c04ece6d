package custody

import (
	"context"
	"sync"
)

// Handle is a long-lived, lazily initialised custody connection shared by all
// chain clients. The first call builds and authenticates a Client; later calls
// reuse it until Reset.
type Handle struct {
	cfg       Config
	newClient func(Config) (*Client, error)

	mu     sync.Mutex
	client *Client
}

// NewHandle creates a handle; no connection is made until first use
func NewHandle(cfg Config) *Handle {
	return &Handle{cfg: cfg, newClient: NewClient}
}

// Client returns the shared client, creating and authenticating it on first use.
// A failed initialisation is not cached, so the next call retries.
func (h *Handle) Client(ctx context.Context) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		return h.client, nil
	}

	c, err := h.newClient(h.cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}

	h.client = c
	return c, nil
}

// Reset drops the shared client; the next call reconnects
func (h *Handle) Reset() {
	h.mu.Lock()
	h.client = nil
	h.mu.Unlock()
}

func (h *Handle) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*Account, error) {
	c, err := h.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.CreateAccount(ctx, req)
}

func (h *Handle) Sign(ctx context.Context, req *SignRequest) (*Signature, error) {
	c, err := h.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.Sign(ctx, req)
}

var _ Signer = (*Handle)(nil)
