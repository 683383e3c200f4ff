// Package client holds helpers for callers of the settlement HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultPollInterval = 3 * time.Second
	userIDHeader        = "X-User-ID"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

type cartResponse struct {
	Items []json.RawMessage `json:"items"`
}

// CartPoller watches a buyer's cart until it empties. A pending mobile money
// checkout clears the cart once the provider confirms, so an empty cart is
// the signal a client without a push channel waits for.
type CartPoller struct {
	baseURL  string
	userID   string
	interval time.Duration
	client   *http.Client
}

func NewCartPoller(baseURL, userID string, interval time.Duration, client *http.Client) *CartPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &CartPoller{
		baseURL:  strings.TrimRight(baseURL, "/"),
		userID:   userID,
		interval: interval,
		client:   client,
	}
}

// WaitForEmptyCart polls until the cart is empty, a request fails or ctx is
// done, whichever comes first.
func (p *CartPoller) WaitForEmptyCart(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		empty, err := p.cartIsEmpty(ctx)
		if err != nil {
			return err
		}
		if empty {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *CartPoller) cartIsEmpty(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v1/cart", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set(userIDHeader, p.userID)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("get cart: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var cart cartResponse
	if err := json.NewDecoder(resp.Body).Decode(&cart); err != nil {
		return false, fmt.Errorf("decode cart: %w", err)
	}
	return len(cart.Items) == 0, nil
}
