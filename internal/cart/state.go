package cart

import (
	"time"

	"github.com/angelmondragon/cartsync/pkg/types"
)

// NoticeKind classifies the user-visible message attached to the state.
type NoticeKind string

const (
	NoticeError   NoticeKind = "error"
	NoticeWarning NoticeKind = "warning"
	NoticeInfo    NoticeKind = "info"
)

// Notice is a non-blocking inline message for the presentation layer.
type Notice struct {
	Kind            NoticeKind     `json:"kind"`
	SKU             string         `json:"sku,omitempty"`
	ComboInstanceID types.RemoteID `json:"combo_instance_id,omitempty"`
	Message         string         `json:"message"`
	At              time.Time      `json:"at"`
}

// OutcomeStatus is the result of a single intent.
type OutcomeStatus string

const (
	// OutcomeApplied means the server accepted the change and the cart was replaced.
	OutcomeApplied OutcomeStatus = "applied"
	// OutcomeUnchanged means the intent resolved to the confirmed value and no call was made.
	OutcomeUnchanged OutcomeStatus = "unchanged"
	// OutcomeRejected means local validation refused the intent before any call.
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeFailed means the remote call failed and local state was reverted.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome reports what happened to an intent. Failures are reported here, never returned as errors.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Notice *Notice       `json:"notice,omitempty"`
	// Retryable marks failures the server may accept if the same intent is sent again.
	Retryable bool `json:"retryable,omitempty"`
	// Err is the underlying failure for logging; it is not serialized.
	Err error `json:"-"`
}

// OK reports whether the intent left the cart consistent with the request.
func (o Outcome) OK() bool {
	return o.Status == OutcomeApplied || o.Status == OutcomeUnchanged
}

func rejected(reason string) Outcome {
	return Outcome{Status: OutcomeRejected, Reason: reason}
}

// ControllerState is an immutable snapshot of the controller. Maps are never mutated once
// published; every change builds new ones. Quantities and Updating are indexed by line key
// (see types.LineKey), so two instances of one combo never share an entry.
type ControllerState struct {
	Cart       *types.Cart     `json:"cart"`
	Quantities map[string]int  `json:"quantities"`
	Updating   map[string]bool `json:"updating"`
	Notice     *Notice         `json:"notice,omitempty"`
	Version    uint64          `json:"version"`
	Closed     bool            `json:"closed,omitempty"`
}

// DisplayedQuantity returns the quantity shown for a line, optimistic or confirmed.
func (s ControllerState) DisplayedQuantity(ref types.LineRef) (int, bool) {
	qty, ok := s.Quantities[s.keyOf(ref)]
	return qty, ok
}

// IsUpdating reports whether a mutation for the line is outstanding.
func (s ControllerState) IsUpdating(ref types.LineRef) bool {
	return s.Updating[s.keyOf(ref)]
}

// keyOf resolves a ref against the held cart so a sku-only ref finds a lone combo line.
func (s ControllerState) keyOf(ref types.LineRef) string {
	if item, ok := s.Cart.FindItem(ref); ok {
		return item.Key()
	}
	return ref.Key()
}

// Grouped returns the cart lines partitioned for presentation.
func (s ControllerState) Grouped() Grouped {
	if s.Cart == nil {
		return Group(nil)
	}
	return Group(s.Cart.Items)
}

func quantitiesFrom(cart *types.Cart) map[string]int {
	out := make(map[string]int)
	if cart == nil {
		return out
	}
	for _, item := range cart.Items {
		out[item.Key()] = item.Quantity
	}
	return out
}

func withQuantity(in map[string]int, key string, qty int) map[string]int {
	out := make(map[string]int, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	out[key] = qty
	return out
}

func withUpdating(in map[string]bool, key string, updating bool) map[string]bool {
	out := make(map[string]bool, len(in)+1)
	for k, v := range in {
		if k == key {
			continue
		}
		out[k] = v
	}
	if updating {
		out[key] = true
	}
	return out
}
