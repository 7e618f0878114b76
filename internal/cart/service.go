package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/cartsync/pkg/cartapi"
	"github.com/angelmondragon/cartsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/types"
)

const checkoutFailedMessage = "Could not create checkout"

// remoteAPI is the slice of the cart REST client the service depends on.
type remoteAPI interface {
	RemoveItem(ctx context.Context, req cartapi.RemoveItemRequest) (*cartapi.RemoveItemResponse, error)
	UpdateItemQuantity(ctx context.Context, req cartapi.UpdateItemQuantityRequest) (*types.Cart, error)
	DeleteCart(ctx context.Context, cartID types.RemoteID) (*cartapi.DeleteCartResponse, error)
	CreateCheckout(ctx context.Context, req cartapi.CheckoutRequest) (*types.Checkout, error)
	ListCarts(ctx context.Context, storeID types.RemoteID) ([]types.Cart, error)
}

// Service exposes the cart mutations. Each call issues exactly one remote request and
// returns the server's canonical cart.
type Service interface {
	FetchCart(ctx context.Context, storeID types.RemoteID) (*types.Cart, error)
	RemoveItem(ctx context.Context, input RemoveItemInput) (*types.Cart, error)
	UpdateQuantity(ctx context.Context, input UpdateQuantityInput) (*types.Cart, error)
	DeleteCart(ctx context.Context, cartID types.RemoteID) (string, error)
	CreateCheckout(ctx context.Context, input CheckoutInput) (*types.Checkout, error)
}

// ServiceFactory builds a Service authenticated as the given bearer token.
type ServiceFactory func(token string) (Service, error)

type service struct {
	api             remoteAPI
	comboRootPrefix string
}

// NewService builds a cart service on top of the remote cart API.
func NewService(api remoteAPI, comboRootPrefix string) (Service, error) {
	if api == nil {
		return nil, fmt.Errorf("cart api client required")
	}
	if strings.TrimSpace(comboRootPrefix) == "" {
		comboRootPrefix = types.DefaultComboRootPrefix
	}
	return &service{api: api, comboRootPrefix: comboRootPrefix}, nil
}

// NewServiceFactory returns a factory that scopes client to each caller's token.
func NewServiceFactory(client *cartapi.Client, comboRootPrefix string) ServiceFactory {
	return func(token string) (Service, error) {
		if client == nil {
			return nil, fmt.Errorf("cart api client required")
		}
		return NewService(client.WithAuth(token), comboRootPrefix)
	}
}

// RemoveItemInput identifies the line to delete.
type RemoveItemInput struct {
	StoreID         types.RemoteID
	SKU             string
	ComboInstanceID types.RemoteID
}

// UpdateQuantityInput describes one quantity intent. Quantity is only read for set_quantity.
type UpdateQuantityInput struct {
	StoreID         types.RemoteID
	ProductID       types.RemoteID
	SKU             string
	Action          enums.QuantityAction
	Quantity        *int
	ComboInstanceID types.RemoteID
}

// CheckoutInput carries the checkout request fields.
type CheckoutInput struct {
	CartID           types.RemoteID
	ShippingMethodID types.RemoteID
	CouponCode       string
}

func (s *service) FetchCart(ctx context.Context, storeID types.RemoteID) (*types.Cart, error) {
	carts, err := s.api.ListCarts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	for idx := range carts {
		if storeID.IsZero() || carts[idx].Store == storeID || carts[idx].Store.IsZero() {
			return s.normalize(&carts[idx], storeID), nil
		}
	}
	return s.normalize(nil, storeID), nil
}

func (s *service) RemoveItem(ctx context.Context, input RemoveItemInput) (*types.Cart, error) {
	resp, err := s.api.RemoveItem(ctx, cartapi.RemoveItemRequest{
		StoreID:         input.StoreID,
		SKU:             input.SKU,
		ComboInstanceID: input.ComboInstanceID,
	})
	if err != nil {
		return nil, err
	}
	var cart *types.Cart
	if resp != nil {
		cart = resp.Cart
	}
	return s.normalize(cart, input.StoreID), nil
}

func (s *service) UpdateQuantity(ctx context.Context, input UpdateQuantityInput) (*types.Cart, error) {
	if !input.Action.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported quantity action %q", input.Action)
	}
	req := cartapi.UpdateItemQuantityRequest{
		StoreID:         input.StoreID,
		ProductID:       input.ProductID,
		SKU:             input.SKU,
		Action:          input.Action,
		ComboInstanceID: input.ComboInstanceID,
	}
	if input.Action == enums.QuantityActionSetQuantity {
		if input.Quantity == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity is required for set_quantity")
		}
		qty := *input.Quantity
		req.Quantity = &qty
	}

	cart, err := s.api.UpdateItemQuantity(ctx, req)
	if err != nil {
		return nil, err
	}
	// Only remove may legitimately leave the store without a cart.
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "update quantity response carried no cart")
	}
	return s.normalize(cart, input.StoreID), nil
}

func (s *service) DeleteCart(ctx context.Context, cartID types.RemoteID) (string, error) {
	resp, err := s.api.DeleteCart(ctx, cartID)
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Detail) == "" {
		return cartapi.DefaultDeleteCartDetail, nil
	}
	return resp.Detail, nil
}

func (s *service) CreateCheckout(ctx context.Context, input CheckoutInput) (*types.Checkout, error) {
	checkout, err := s.api.CreateCheckout(ctx, cartapi.CheckoutRequest{
		CartID:           input.CartID,
		ShippingMethodID: input.ShippingMethodID,
		CouponCode:       strings.TrimSpace(input.CouponCode),
	})
	if err != nil {
		return nil, checkoutError(err)
	}
	return checkout, nil
}

// checkoutError keeps the server's detail as the message and falls back to a generic one.
func checkoutError(err error) error {
	code := pkgerrors.CodeOf(err)
	var apiErr *cartapi.APIError
	if errors.As(err, &apiErr) {
		return pkgerrors.Wrap(code, err, apiErr.Message(checkoutFailedMessage))
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
		return err
	}
	return pkgerrors.Wrap(code, err, checkoutFailedMessage)
}

// normalize fills the empty-cart shape, pins the store and assigns item kinds.
func (s *service) normalize(cart *types.Cart, storeID types.RemoteID) *types.Cart {
	if cart == nil {
		return types.EmptyCart(storeID)
	}
	out := cart.Clone()
	if out.Items == nil {
		out.Items = []types.CartItem{}
	}
	if out.Store.IsZero() {
		out.Store = storeID
	}
	return out.Classify(s.comboRootPrefix)
}
