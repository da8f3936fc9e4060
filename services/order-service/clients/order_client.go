package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/order-service/models"
	repositories "github.com/yashrajoria/resibuy-backend/services/order-service/repository"
)

const DefaultTimeout = 10 * time.Second

// ErrRejected is returned for 4xx answers other than 404 and 409. Sending
// the same request again will not help.
var ErrRejected = errors.New("request rejected by downstream")

// OrderClient applies checkouts and status updates through the order API
// instead of the database.
type OrderClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOrderClient(baseURL string, timeout time.Duration, logger *zap.Logger) *OrderClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OrderClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CreateOrders posts the checkout with its id as Idempotency-Key. A 409
// means an earlier delivery already created the orders.
func (c *OrderClient) CreateOrders(ctx context.Context, msg events.CheckoutMessage) (models.CheckoutResult, error) {
	url := fmt.Sprintf("%s/api/orders/checkout", c.baseURL)
	resp, err := doJSON(ctx, c.httpClient, http.MethodPost, url, msg, map[string]string{"Idempotency-Key": msg.CheckoutID})
	if err != nil {
		return models.CheckoutResult{}, fmt.Errorf("order service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		c.logger.Info("checkout already applied", zap.String("checkout_id", msg.CheckoutID))
		return models.CheckoutResult{OrderIDs: derivedOrderIDs(msg)}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result models.CheckoutResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || len(result.OrderIDs) == 0 {
			result.OrderIDs = derivedOrderIDs(msg)
			result.Created = true
		}
		return result, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return models.CheckoutResult{}, fmt.Errorf("%w: %s", repositories.ErrVoucherUnavailable, errorMessage(resp))
	}
	return models.CheckoutResult{}, statusError(resp)
}

func (c *OrderClient) UpdateStatus(ctx context.Context, update events.OrderStatusUpdate) (models.StatusResult, error) {
	url := fmt.Sprintf("%s/api/orders/%s/status", c.baseURL, update.OrderID)
	resp, err := doJSON(ctx, c.httpClient, http.MethodPut, url, update, nil)
	if err != nil {
		return models.StatusResult{}, fmt.Errorf("order service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.StatusResult{}, fmt.Errorf("%w: %s", repositories.ErrOrderNotFound, update.OrderID)
	}
	if resp.StatusCode != http.StatusOK {
		return models.StatusResult{}, statusError(resp)
	}

	var result models.StatusResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.StatusResult{}, fmt.Errorf("decode status result: %w", err)
	}
	return result, nil
}

func doJSON(ctx context.Context, client *http.Client, method, url string, payload any, headers map[string]string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return client.Do(req)
}

func derivedOrderIDs(msg events.CheckoutMessage) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(msg.Orders))
	for _, so := range msg.Orders {
		ids = append(ids, models.OrderIDFor(msg.CheckoutID, so.StoreID))
	}
	return ids
}

// statusError wraps 4xx answers in ErrRejected; 5xx stay retryable.
func statusError(resp *http.Response) error {
	msg := errorMessage(resp)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
	}
	return fmt.Errorf("downstream returned %d: %s", resp.StatusCode, msg)
}

func errorMessage(resp *http.Response) string {
	var errResp map[string]any
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &errResp) == nil {
		if m, ok := errResp["error"].(string); ok && m != "" {
			return m
		}
	}
	return http.StatusText(resp.StatusCode)
}
