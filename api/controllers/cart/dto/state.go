package cartdto

import (
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/pkg/types"
	"github.com/shopspring/decimal"
)

// ComboView is a well-formed combo: its root line and the lines bundled with it.
type ComboView struct {
	InstanceID types.RemoteID   `json:"combo_instance_id"`
	Combo      types.CartItem   `json:"combo"`
	Children   []types.CartItem `json:"children"`
}

// StateView is the wire shape of a cart session. Quantities and Updating are keyed by
// line key: the sku, or "sku@combo_instance_id" for combo lines.
type StateView struct {
	Cart       *types.Cart      `json:"cart"`
	Singles    []types.CartItem `json:"singles"`
	Combos     []ComboView      `json:"combos"`
	Quantities map[string]int   `json:"quantities"`
	Updating   map[string]bool  `json:"updating"`
	Notice     *cartsvc.Notice  `json:"notice,omitempty"`
	ItemCount  int              `json:"item_count"`
	Savings    decimal.Decimal  `json:"savings"`
	Version    uint64           `json:"version"`
	Closed     bool             `json:"closed"`
}

// IntentResponse answers every intent endpoint.
type IntentResponse struct {
	Outcome  cartsvc.Outcome `json:"outcome"`
	State    StateView       `json:"state"`
	Checkout *types.Checkout `json:"checkout,omitempty"`
}
