// Package directory resolves customer and user references against the
// people directory HTTP API.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"pos_sales/internal/sales"
)

// ErrNotFound is returned when the directory has no record for a reference.
var ErrNotFound = errors.New("directory record not found")

// Client is a sales.Directory backed by resty.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

var _ sales.Directory = (*Client)(nil)

// New creates a Client for the directory at baseURL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: c, logger: logger}
}

// Customer looks up GET /customers/{id}.
func (c *Client) Customer(ctx context.Context, ref sales.CustomerRef) (sales.Party, error) {
	return c.get(ctx, "/customers/{id}", string(ref))
}

// User looks up GET /users/{id}.
func (c *Client) User(ctx context.Context, ref sales.UserRef) (sales.Party, error) {
	return c.get(ctx, "/users/{id}", string(ref))
}

func (c *Client) get(ctx context.Context, path, id string) (sales.Party, error) {
	var party sales.Party
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&party).
		Get(path)
	if err != nil {
		return sales.Party{}, fmt.Errorf("error making request to directory: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		if party.ID == "" {
			party.ID = id
		}
		return party, nil
	case http.StatusNotFound:
		return sales.Party{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		c.logger.Warn("directory returned unexpected status",
			zap.String("path", path),
			zap.String("id", id),
			zap.Int("status", resp.StatusCode()),
		)
		return sales.Party{}, fmt.Errorf("directory returned unexpected status: %d", resp.StatusCode())
	}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.http.Close()
}
