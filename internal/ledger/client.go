// Package ledger is the typed gateway to the external ledger services: the
// hold primitives (start/confirm/cancel for deposit, withdraw and transfer)
// plus the classifier that maps ledger failures into the domain taxonomy.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mocoin/domain/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Client is a thin HTTP client for one ledger endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// RequestError is a ledger response with a non-2xx status. It is the only
// error shape the classifier inspects.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("ledger request failed: status %d: %s", e.StatusCode, e.Message)
}

// StartParams describes a hold to place. FromAccountNumber and
// ToAccountNumber are each required only by the operations that use them.
type StartParams struct {
	Agent             domain.Party `json:"agent"`
	Recipient         domain.Party `json:"recipient"`
	Amount            int64        `json:"amount"`
	Notes             string       `json:"notes,omitempty"`
	FromAccountNumber string       `json:"fromAccountNumber,omitempty"`
	ToAccountNumber   string       `json:"toAccountNumber,omitempty"`
	Expires           time.Time    `json:"expires"`
}

// StartedTransaction is the ledger's reference to a placed hold.
type StartedTransaction struct {
	ID string `json:"id"`
}

func (c *Client) StartDeposit(ctx context.Context, params StartParams) (StartedTransaction, error) {
	return c.start(ctx, "deposit", params)
}

func (c *Client) StartWithdraw(ctx context.Context, params StartParams) (StartedTransaction, error) {
	return c.start(ctx, "withdraw", params)
}

func (c *Client) StartTransfer(ctx context.Context, params StartParams) (StartedTransaction, error) {
	return c.start(ctx, "transfer", params)
}

func (c *Client) ConfirmDeposit(ctx context.Context, transactionID string) error {
	return c.transition(ctx, "deposit", transactionID, "confirm")
}

func (c *Client) ConfirmWithdraw(ctx context.Context, transactionID string) error {
	return c.transition(ctx, "withdraw", transactionID, "confirm")
}

func (c *Client) ConfirmTransfer(ctx context.Context, transactionID string) error {
	return c.transition(ctx, "transfer", transactionID, "confirm")
}

func (c *Client) CancelDeposit(ctx context.Context, transactionID string) error {
	return c.transition(ctx, "deposit", transactionID, "cancel")
}

func (c *Client) CancelWithdraw(ctx context.Context, transactionID string) error {
	return c.transition(ctx, "withdraw", transactionID, "cancel")
}

func (c *Client) CancelTransfer(ctx context.Context, transactionID string) error {
	return c.transition(ctx, "transfer", transactionID, "cancel")
}

func (c *Client) start(ctx context.Context, operation string, params StartParams) (StartedTransaction, error) {
	var started StartedTransaction
	path := fmt.Sprintf("/transactions/%s/start", operation)
	if err := c.do(ctx, path, params, &started); err != nil {
		return StartedTransaction{}, err
	}
	if started.ID == "" {
		return StartedTransaction{}, fmt.Errorf("ledger returned no transaction id")
	}
	return started, nil
}

func (c *Client) transition(ctx context.Context, operation, transactionID, verb string) error {
	path := fmt.Sprintf("/transactions/%s/%s/%s", operation, transactionID, verb)
	return c.do(ctx, path, nil, nil)
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		msg := res.Status
		if decodeErr := json.NewDecoder(res.Body).Decode(&errBody); decodeErr == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		return &RequestError{StatusCode: res.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
