package types

import (
	"math"
	"strings"

	"github.com/angelmondragon/cartsync/pkg/enums"
	"github.com/shopspring/decimal"
)

// DefaultComboRootPrefix is the sku prefix the remote service uses for combo roots.
const DefaultComboRootPrefix = "COMBO-"

// VariantDetails carries the stock bound for quantity edits.
type VariantDetails struct {
	Stock *int `json:"stock,omitempty"`
}

// LineRef addresses one cart line. Standalone skus are unique within a cart, but a combo
// sku repeats once per combo instance, so combo lines also need their instance id.
type LineRef struct {
	SKU             string
	ComboInstanceID RemoteID
}

// Key returns the line key of the reference.
func (r LineRef) Key() string {
	return LineKey(r.SKU, r.ComboInstanceID)
}

// LineKey is the sku for standalone lines and "sku@instance" for combo lines.
func LineKey(sku string, comboInstanceID RemoteID) string {
	if comboInstanceID.IsZero() {
		return sku
	}
	return sku + "@" + comboInstanceID.String()
}

// CartItem is one line of a server-authoritative cart.
type CartItem struct {
	SKU             string          `json:"sku"`
	ProductID       RemoteID        `json:"product_id"`
	Quantity        int             `json:"quantity"`
	ComboInstanceID RemoteID        `json:"combo_instance_id,omitempty"`
	VariantDetails  *VariantDetails `json:"variant_details,omitempty"`
	Price           decimal.Decimal `json:"price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Name            string          `json:"name,omitempty"`
	Image           string          `json:"image,omitempty"`

	// Kind is assigned once at ingestion by Classify.
	Kind enums.CartItemKind `json:"kind,omitempty"`
}

// Ref returns the reference that addresses this line.
func (i CartItem) Ref() LineRef {
	return LineRef{SKU: i.SKU, ComboInstanceID: i.ComboInstanceID}
}

// Key returns the line key used to index per-line state.
func (i CartItem) Key() string {
	return LineKey(i.SKU, i.ComboInstanceID)
}

// Stock returns the known stock bound, if any.
func (i CartItem) Stock() (int, bool) {
	if i.VariantDetails == nil || i.VariantDetails.Stock == nil {
		return 0, false
	}
	return *i.VariantDetails.Stock, true
}

// MaxQuantity returns the upper bound for quantity edits. Absent stock is unbounded.
func (i CartItem) MaxQuantity() int {
	if stock, ok := i.Stock(); ok {
		return stock
	}
	return math.MaxInt
}

// InCombo reports whether the line belongs to a combo purchase.
func (i CartItem) InCombo() bool {
	return !i.ComboInstanceID.IsZero()
}

// Clone returns a deep copy of the item.
func (i CartItem) Clone() CartItem {
	out := i
	if i.VariantDetails != nil {
		vd := *i.VariantDetails
		if i.VariantDetails.Stock != nil {
			stock := *i.VariantDetails.Stock
			vd.Stock = &stock
		}
		out.VariantDetails = &vd
	}
	return out
}

// ClassifyItem derives the item kind from its combo id and the combo-root sku prefix.
func ClassifyItem(item CartItem, comboRootPrefix string) enums.CartItemKind {
	if !item.InCombo() {
		return enums.CartItemKindSingle
	}
	if comboRootPrefix == "" {
		comboRootPrefix = DefaultComboRootPrefix
	}
	if strings.HasPrefix(item.SKU, comboRootPrefix) {
		return enums.CartItemKindComboRoot
	}
	return enums.CartItemKindComboChild
}

// ClassifyItems returns a copy of items with Kind assigned.
func ClassifyItems(items []CartItem, comboRootPrefix string) []CartItem {
	out := make([]CartItem, len(items))
	for idx, item := range items {
		out[idx] = item.Clone()
		out[idx].Kind = ClassifyItem(item, comboRootPrefix)
	}
	return out
}

// Cart is the server-authoritative aggregate. A cart is scoped to exactly one store.
type Cart struct {
	ID            RemoteID        `json:"id,omitempty"`
	Items         []CartItem      `json:"items"`
	ItemsSubtotal decimal.Decimal `json:"items_subtotal"`
	Total         decimal.Decimal `json:"total"`
	Store         RemoteID        `json:"store"`
	StoreName     string          `json:"store_name,omitempty"`
	StoreSlug     string          `json:"store_slug,omitempty"`
	StoreLogo     string          `json:"store_logo,omitempty"`
}

// EmptyCart builds the shape used when the remote service reports no cart for a store.
func EmptyCart(storeID RemoteID) *Cart {
	return &Cart{
		Items:         []CartItem{},
		ItemsSubtotal: decimal.Zero,
		Total:         decimal.Zero,
		Store:         storeID,
	}
}

// Classify assigns item kinds in place and returns the cart.
func (c *Cart) Classify(comboRootPrefix string) *Cart {
	if c == nil {
		return nil
	}
	c.Items = ClassifyItems(c.Items, comboRootPrefix)
	return c
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]CartItem, len(c.Items))
	for idx, item := range c.Items {
		out.Items[idx] = item.Clone()
	}
	return &out
}

// FindItem looks up a line. A ref without an instance id matches a standalone line, or a
// combo line when exactly one instance holds the sku.
func (c *Cart) FindItem(ref LineRef) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	if !ref.ComboInstanceID.IsZero() {
		for _, item := range c.Items {
			if item.SKU == ref.SKU && item.ComboInstanceID == ref.ComboInstanceID {
				return item, true
			}
		}
		return CartItem{}, false
	}

	var (
		match   CartItem
		matches int
	)
	for _, item := range c.Items {
		if item.SKU != ref.SKU {
			continue
		}
		if !item.InCombo() {
			return item, true
		}
		match = item
		matches++
	}
	return match, matches == 1
}

// CountSKU returns how many lines carry sku.
func (c *Cart) CountSKU(sku string) int {
	if c == nil {
		return 0
	}
	count := 0
	for _, item := range c.Items {
		if item.SKU == sku {
			count++
		}
	}
	return count
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// ItemCount sums line quantities.
func (c *Cart) ItemCount() int {
	if c == nil {
		return 0
	}
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// Savings is the pre-discount reference amount above the subtotal, never negative.
func (c *Cart) Savings() decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}
	diff := c.Total.Sub(c.ItemsSubtotal)
	if diff.IsNegative() {
		return decimal.Zero
	}
	return diff
}

// Checkout is the result of creating a checkout for a cart.
type Checkout struct {
	ID           RemoteID        `json:"id,omitempty"`
	CartID       RemoteID        `json:"cart_id,omitempty"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	Status       string          `json:"status,omitempty"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	// Warning is a non-fatal advisory such as a stock adjustment.
	Warning string `json:"warning,omitempty"`
}

// HasWarning reports whether the checkout carries an advisory for the user.
func (c Checkout) HasWarning() bool {
	return strings.TrimSpace(c.Warning) != ""
}
