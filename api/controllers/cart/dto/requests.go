package cartdto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/cartsync/pkg/enums"
	"github.com/angelmondragon/cartsync/pkg/types"
)

// OpenSessionRequest opens the cart view of one store.
type OpenSessionRequest struct {
	StoreID types.RemoteID `json:"store_id" validate:"required,max=64"`
}

// QuantityRequest carries one quantity intent. Quantity is only read for set_quantity.
type QuantityRequest struct {
	Action   enums.QuantityAction `json:"action" validate:"required,oneof=increment decrement set_quantity"`
	Quantity RawQuantity          `json:"quantity"`
}

// CheckoutRequest carries the checkout fields chosen by the user.
type CheckoutRequest struct {
	ShippingMethodID types.RemoteID `json:"shipping_method_id" validate:"max=64"`
	CouponCode       string         `json:"coupon_code" validate:"max=64"`
}

// RawQuantity keeps the user's input as typed so the controller can decide whether it is numeric.
// Strings, numbers and null are accepted.
type RawQuantity string

// UnmarshalJSON implements json.Unmarshaler.
func (q *RawQuantity) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*q = ""
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		*q = RawQuantity(strings.TrimSpace(raw))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return fmt.Errorf("quantity must be a string or number: %w", err)
	}
	*q = RawQuantity(num.String())
	return nil
}

// String implements fmt.Stringer.
func (q RawQuantity) String() string {
	return string(q)
}
