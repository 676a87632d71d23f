// Package rest is the collaborator API client: full order details and
// OTP verification round-trips.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/rider-dispatch/internal/delivery"
	"github.com/example/rider-dispatch/internal/models"
)

type Client struct {
	base   string
	token  string
	client *http.Client
}

func NewClient(base, token string) *Client {
	return &Client{base: base, token: token, client: &http.Client{Timeout: 10 * time.Second}}
}

// FetchOrder loads the full order for an accepted offer.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (models.ActiveOrder, error) {
	var out models.ActiveOrder
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/v1/orders/%s", c.base, orderID), nil)
	if err != nil {
		return out, err
	}
	c.auth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("fetch order %s: unexpected status %d", orderID, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// VerifyPickup checks the restaurant-held code.
func (c *Client) VerifyPickup(ctx context.Context, orderID, code string) error {
	return c.verify(ctx, orderID, "pickup", code)
}

// VerifyDelivery checks the customer-held code.
func (c *Client) VerifyDelivery(ctx context.Context, orderID, code string) error {
	return c.verify(ctx, orderID, "delivery", code)
}

func (c *Client) verify(ctx context.Context, orderID, stage, code string) error {
	body, _ := json.Marshal(map[string]string{"stage": stage, "code": code})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/orders/%s/otp/verify", c.base, orderID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusConflict:
		return delivery.ErrOtpMismatch
	default:
		return fmt.Errorf("verify %s otp for %s: unexpected status %d", stage, orderID, resp.StatusCode)
	}
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
