package cartapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/cartsync/pkg/enums"
	"github.com/angelmondragon/cartsync/pkg/types"
)

// RemoveItemRequest is the body of POST /cart/delete-item/.
type RemoveItemRequest struct {
	StoreID         types.RemoteID `json:"store_id"`
	SKU             string         `json:"sku"`
	ComboInstanceID types.RemoteID `json:"combo_instance_id,omitempty"`
}

// RemoveItemResponse wraps the cart returned after a removal.
type RemoveItemResponse struct {
	Cart   *types.Cart `json:"cart"`
	Detail string      `json:"detail,omitempty"`
}

// UpdateItemQuantityRequest is the body of POST /cart/update-item-quantity/.
// Quantity is only sent for set_quantity.
type UpdateItemQuantityRequest struct {
	StoreID         types.RemoteID       `json:"store_id"`
	ProductID       types.RemoteID       `json:"product_id"`
	SKU             string               `json:"sku"`
	Action          enums.QuantityAction `json:"action"`
	Quantity        *int                 `json:"quantity,omitempty"`
	ComboInstanceID types.RemoteID       `json:"combo_instance_id,omitempty"`
}

// DeleteCartResponse carries the confirmation detail of a cart deletion.
type DeleteCartResponse struct {
	Detail string `json:"detail"`
}

// CheckoutRequest is the body of POST /cart/checkout/.
type CheckoutRequest struct {
	CartID           types.RemoteID `json:"cart_id"`
	ShippingMethodID types.RemoteID `json:"shipping_method_id"`
	CouponCode       string         `json:"coupon_code,omitempty"`
}

// APIError is a non-2xx answer from the remote cart service.
type APIError struct {
	Status int
	// detail is the server's human readable reason, when it sent one.
	detail string
	Body   string
}

// NewAPIError builds the error for a non-2xx response body.
func NewAPIError(status int, body []byte) *APIError {
	return &APIError{
		Status: status,
		detail: extractDetail(body),
		Body:   strings.TrimSpace(string(body)),
	}
}

func (e *APIError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.detail)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// StatusCode returns the HTTP status of the failed call.
func (e *APIError) StatusCode() int {
	return e.Status
}

// Detail returns the server's structured reason, or "".
func (e *APIError) Detail() string {
	return e.detail
}

// Message returns the structured detail when present, else fallback.
func (e *APIError) Message(fallback string) string {
	if e.detail != "" {
		return e.detail
	}
	return fallback
}

// extractDetail understands {"detail": "..."}, {"error": "..."}, and
// {"non_field_errors": ["..."]} bodies.
func extractDetail(body []byte) string {
	var payload struct {
		Detail         any      `json:"detail"`
		Error          string   `json:"error"`
		NonFieldErrors []string `json:"non_field_errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	switch d := payload.Detail.(type) {
	case string:
		if strings.TrimSpace(d) != "" {
			return strings.TrimSpace(d)
		}
	case []any:
		for _, entry := range d {
			if s, ok := entry.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	for _, msg := range payload.NonFieldErrors {
		if strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
	}
	return strings.TrimSpace(payload.Error)
}

type requestIDKey struct{}

// WithRequestID attaches the request id forwarded to the remote service.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the forwarded request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
