package enums

import "fmt"

// CartItemKind tags a cart line as a standalone item, a combo root, or a combo child.
type CartItemKind string

const (
	CartItemKindSingle     CartItemKind = "single"
	CartItemKindComboRoot  CartItemKind = "combo_root"
	CartItemKindComboChild CartItemKind = "combo_child"
)

var validCartItemKinds = []CartItemKind{
	CartItemKindSingle,
	CartItemKindComboRoot,
	CartItemKindComboChild,
}

// String implements fmt.Stringer.
func (k CartItemKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known CartItemKind.
func (k CartItemKind) IsValid() bool {
	for _, candidate := range validCartItemKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsCombo reports whether the line belongs to a combo purchase.
func (k CartItemKind) IsCombo() bool {
	return k == CartItemKindComboRoot || k == CartItemKindComboChild
}

// ParseCartItemKind converts raw input into a CartItemKind.
func ParseCartItemKind(value string) (CartItemKind, error) {
	for _, candidate := range validCartItemKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cart item kind %q", value)
}
