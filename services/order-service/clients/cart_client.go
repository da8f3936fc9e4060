package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CartClient clears a buyer's cart through the cart service.
type CartClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewCartClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CartClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CartClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ResetCart is idempotent on the cart side; resetting an empty cart is fine.
func (c *CartClient) ResetCart(ctx context.Context, userID string) error {
	resp, err := doJSON(ctx, c.httpClient, http.MethodPost, fmt.Sprintf("%s/cart/reset", c.baseURL), map[string]string{"userId": userID}, nil)
	if err != nil {
		return fmt.Errorf("cart reset request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	c.logger.Debug("cart reset", zap.String("user_id", userID))
	return nil
}
