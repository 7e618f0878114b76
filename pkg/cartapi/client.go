package cartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/types"
	"github.com/google/uuid"
)

const (
	defaultTimeout          = 15 * time.Second
	errorBodyReadLimit      = 4096
	requestIDHeader         = "X-Request-Id"
	removeItemPath          = "cart/delete-item/"
	updateItemQuantityPath  = "cart/update-item-quantity/"
	userCartsPath           = "cart/user-carts/"
	checkoutPath            = "cart/checkout/"
)

// DefaultDeleteCartDetail confirms a delete whose response carried no detail.
const DefaultDeleteCartDetail = "Cart deleted successfully"

var errBaseURLRequired = errors.New("cart api base url is required")

// Client talks to the server-authoritative cart REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout, Transport: c.httpClient.Transport}
		}
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// NewClient builds a cart API client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse cart api base url: %w", err)
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// WithAuth returns a copy of the client that authenticates as the given bearer token.
// The underlying HTTP client is shared.
func (c *Client) WithAuth(token string) *Client {
	clone := *c
	clone.token = strings.TrimSpace(token)
	return &clone
}

// RemoveItem issues POST /cart/delete-item/. A nil Cart in the response means the
// remote service no longer holds a cart for the store.
func (c *Client) RemoveItem(ctx context.Context, req RemoveItemRequest) (*RemoveItemResponse, error) {
	if strings.TrimSpace(req.SKU) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku is required")
	}
	var resp RemoveItemResponse
	if err := c.do(ctx, http.MethodPost, removeItemPath, nil, req, &resp, "remove cart item"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateItemQuantity issues POST /cart/update-item-quantity/ and returns the updated
// cart, or nil when the response carries no cart.
func (c *Client) UpdateItemQuantity(ctx context.Context, req UpdateItemQuantityRequest) (*types.Cart, error) {
	if strings.TrimSpace(req.SKU) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku is required")
	}
	if !req.Action.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported quantity action %q", req.Action)
	}
	var cart *types.Cart
	if err := c.do(ctx, http.MethodPost, updateItemQuantityPath, nil, req, &cart, "update cart item quantity"); err != nil {
		return nil, err
	}
	return cart, nil
}

// DeleteCart issues DELETE /cart/user-carts/{id}/. An empty success body yields the
// default confirmation detail.
func (c *Client) DeleteCart(ctx context.Context, cartID types.RemoteID) (*DeleteCartResponse, error) {
	if cartID.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id is required")
	}
	var resp DeleteCartResponse
	path := userCartsPath + url.PathEscape(cartID.String()) + "/"
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, &resp, "delete cart"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Detail) == "" {
		resp.Detail = DefaultDeleteCartDetail
	}
	return &resp, nil
}

// CreateCheckout issues POST /cart/checkout/.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*types.Checkout, error) {
	if req.CartID.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id is required")
	}
	if req.ShippingMethodID.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping method id is required")
	}
	var checkout *types.Checkout
	if err := c.do(ctx, http.MethodPost, checkoutPath, nil, req, &checkout, "create checkout"); err != nil {
		return nil, err
	}
	if checkout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "checkout response was empty")
	}
	return checkout, nil
}

// ListCarts issues GET /cart/user-carts/?store={id}. Both bare lists and paginated
// {"results": [...]} bodies are accepted.
func (c *Client) ListCarts(ctx context.Context, storeID types.RemoteID) ([]types.Cart, error) {
	query := url.Values{}
	if !storeID.IsZero() {
		query.Set("store", storeID.String())
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, userCartsPath, query, nil, &raw, "list carts"); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var carts []types.Cart
		if err := json.Unmarshal(trimmed, &carts); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode cart list")
		}
		return carts, nil
	}
	var page struct {
		Results []types.Cart `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode cart page")
	}
	return page.Results, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dest any, op string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "cart api client not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal "+op+" request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, query), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build "+op+" request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	httpReq.Header.Set(requestIDHeader, requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, op+" timed out")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		apiErr := NewAPIError(resp.StatusCode, raw)
		return pkgerrors.Wrap(codeForStatus(resp.StatusCode), apiErr, apiErr.Message(op+" failed"))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read "+op+" response")
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+op+" response")
	}
	return nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	target := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return pkgerrors.CodeTimeout
	default:
		return pkgerrors.CodeDependency
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
