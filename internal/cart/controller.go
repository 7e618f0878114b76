package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/cartsync/pkg/cartapi"
	"github.com/angelmondragon/cartsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/angelmondragon/cartsync/pkg/types"
)

const (
	opUpdateQuantity = "update_quantity"
	opRemoveItem     = "remove_item"
	opDeleteCart     = "delete_cart"
	opCheckout       = "checkout"
	opRefresh        = "refresh"

	snapshotSaveTimeout = 2 * time.Second
)

const (
	reasonClosed          = "cart session closed"
	reasonMissingSKU      = "sku is required"
	reasonUnknownSKU      = "item is not in the cart"
	reasonAmbiguousLine   = "combo instance is required for this sku"
	reasonComboChild      = "combo lines are edited through the combo"
	reasonMalformedCombo  = "combo is incomplete"
	reasonNotNumeric      = "quantity must be a whole number"
	reasonBelowMinimum    = "quantity must be at least 1"
	reasonAboveStock      = "quantity exceeds available stock"
	reasonUnknownAction   = "unsupported quantity action"
	reasonNoCart          = "cart has not been created yet"
	reasonEmptyCart       = "cart is empty"
	reasonShippingMissing = "shipping method is required"
)

var errControllerClosed = errors.New("cart controller closed")

// Snapshotter persists the last server-confirmed cart.
type Snapshotter interface {
	SaveCart(ctx context.Context, cart *types.Cart) error
}

// ControllerParams wires a Controller. Service and Cart are required.
type ControllerParams struct {
	Service         Service
	Cart            *types.Cart
	ComboRootPrefix string
	Logger          *logger.Logger
	Metrics         *metrics.CartMetrics
	Snapshotter     Snapshotter
	Now             func() time.Time
}

// Controller keeps the optimistic view of one cart consistent with the server.
//
// Edits to different lines run concurrently. Edits to the same line are serialized: a second
// intent waits for the first to settle and then works from the freshly confirmed cart.
// Subscribers are called in commit order and must not invoke intents synchronously.
type Controller struct {
	svc      Service
	prefix   string
	logg     *logger.Logger
	metrics  *metrics.CartMetrics
	snapshot Snapshotter
	now      func() time.Time

	state atomic.Pointer[ControllerState]

	mu          sync.Mutex
	subscribers map[uint64]func(ControllerState)
	nextSubID   uint64
	notifyMu    sync.Mutex

	slotsMu sync.Mutex
	slots   map[string]chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewController builds a controller holding cart as the confirmed state.
func NewController(params ControllerParams) (*Controller, error) {
	if params.Service == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if params.Cart == nil {
		return nil, fmt.Errorf("initial cart required")
	}
	if strings.TrimSpace(params.ComboRootPrefix) == "" {
		params.ComboRootPrefix = types.DefaultComboRootPrefix
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = time.Now
	}

	c := &Controller{
		svc:         params.Service,
		prefix:      params.ComboRootPrefix,
		logg:        params.Logger,
		metrics:     params.Metrics,
		snapshot:    params.Snapshotter,
		now:         params.Now,
		subscribers: make(map[uint64]func(ControllerState)),
		slots:       make(map[string]chan struct{}),
		done:        make(chan struct{}),
	}
	cart := c.ingest(params.Cart)
	c.state.Store(&ControllerState{
		Cart:       cart,
		Quantities: quantitiesFrom(cart),
		Updating:   map[string]bool{},
	})
	return c, nil
}

// State returns the current snapshot. It never blocks on in-flight mutations.
func (c *Controller) State() ControllerState {
	return *c.state.Load()
}

// Done is closed once the controller is closed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Subscribe registers fn for every state change and returns a cancel func.
func (c *Controller) Subscribe(fn func(ControllerState)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Load().Closed {
		return func() {}
	}
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Increment raises the quantity of a line by one, bounded by stock.
func (c *Controller) Increment(ctx context.Context, ref types.LineRef) Outcome {
	return c.ChangeQuantity(ctx, ref, enums.QuantityActionIncrement, "")
}

// Decrement lowers the quantity of a line by one, never below 1.
func (c *Controller) Decrement(ctx context.Context, ref types.LineRef) Outcome {
	return c.ChangeQuantity(ctx, ref, enums.QuantityActionDecrement, "")
}

// SetQuantity applies a quantity typed by the user. Non-numeric, below 1 or above stock
// values are rejected without a remote call.
func (c *Controller) SetQuantity(ctx context.Context, ref types.LineRef, raw string) Outcome {
	return c.ChangeQuantity(ctx, ref, enums.QuantityActionSetQuantity, raw)
}

// ChangeQuantity runs one quantity intent through the optimistic update cycle.
// raw is only read for set_quantity.
func (c *Controller) ChangeQuantity(ctx context.Context, ref types.LineRef, action enums.QuantityAction, raw string) Outcome {
	if !action.IsValid() {
		return c.reject(ctx, opUpdateQuantity, reasonUnknownAction)
	}
	ref, reason := c.resolve(ref)
	if reason != "" {
		return c.reject(ctx, opUpdateQuantity, reason)
	}
	key := ref.Key()

	release, err := c.acquire(ctx, key)
	if err != nil {
		return c.waitFailed(ctx, opUpdateQuantity, ref, err)
	}
	defer release()

	state := c.State()
	item, reason := c.editable(state, ref)
	if reason != "" {
		return c.reject(ctx, opUpdateQuantity, reason)
	}

	target, reason := intendedQuantity(item, action, raw)
	if reason != "" {
		return c.reject(ctx, opUpdateQuantity, reason)
	}
	if target == item.Quantity {
		return Outcome{Status: OutcomeUnchanged}
	}

	if _, ok := c.commit(func(s ControllerState) ControllerState {
		s.Quantities = withQuantity(s.Quantities, key, target)
		s.Updating = withUpdating(s.Updating, key, true)
		return s
	}); !ok {
		return rejected(reasonClosed)
	}

	input := UpdateQuantityInput{
		StoreID:         state.Cart.Store,
		ProductID:       item.ProductID,
		SKU:             item.SKU,
		Action:          action,
		ComboInstanceID: item.ComboInstanceID,
	}
	if action == enums.QuantityActionSetQuantity {
		input.Quantity = &target
	}

	started := c.now()
	cart, err := c.svc.UpdateQuantity(ctx, input)
	c.metrics.ObserveDuration(opUpdateQuantity, c.now().Sub(started))
	if err != nil {
		return c.revert(ctx, opUpdateQuantity, ref, err, "Could not update the quantity")
	}
	return c.reconcile(ctx, opUpdateQuantity, ref, cart)
}

// Remove deletes a line from the cart. Nothing is removed locally until the server confirms.
func (c *Controller) Remove(ctx context.Context, ref types.LineRef) Outcome {
	ref, reason := c.resolve(ref)
	if reason != "" {
		return c.reject(ctx, opRemoveItem, reason)
	}
	key := ref.Key()

	release, err := c.acquire(ctx, key)
	if err != nil {
		return c.waitFailed(ctx, opRemoveItem, ref, err)
	}
	defer release()

	state := c.State()
	item, reason := c.editable(state, ref)
	if reason != "" {
		return c.reject(ctx, opRemoveItem, reason)
	}

	if _, ok := c.commit(func(s ControllerState) ControllerState {
		s.Updating = withUpdating(s.Updating, key, true)
		return s
	}); !ok {
		return rejected(reasonClosed)
	}

	started := c.now()
	cart, err := c.svc.RemoveItem(ctx, RemoveItemInput{
		StoreID:         state.Cart.Store,
		SKU:             item.SKU,
		ComboInstanceID: item.ComboInstanceID,
	})
	c.metrics.ObserveDuration(opRemoveItem, c.now().Sub(started))
	if err != nil {
		return c.revert(ctx, opRemoveItem, ref, err, "Could not remove the item")
	}
	return c.reconcile(ctx, opRemoveItem, ref, cart)
}

// Replace installs a cart confirmed elsewhere. Displayed quantities of lines that are
// still in flight keep their optimistic value.
func (c *Controller) Replace(ctx context.Context, cart *types.Cart) Outcome {
	if cart == nil {
		return rejected(reasonNoCart)
	}
	next, ok := c.commit(func(s ControllerState) ControllerState {
		return replaced(s, c.ingest(cart), "")
	})
	if !ok {
		return rejected(reasonClosed)
	}
	c.persist(ctx, next.Cart)
	return Outcome{Status: OutcomeApplied}
}

// Refresh re-reads the cart from the server and replaces the local one.
func (c *Controller) Refresh(ctx context.Context) Outcome {
	if c.closed() {
		return rejected(reasonClosed)
	}
	started := c.now()
	cart, err := c.svc.FetchCart(ctx, c.State().Cart.Store)
	c.metrics.ObserveDuration(opRefresh, c.now().Sub(started))
	if err != nil {
		c.metrics.IncFailure(opRefresh)
		c.logFailure(ctx, opRefresh, types.LineRef{}, err)
		return Outcome{Status: OutcomeFailed, Reason: noticeMessage(err, "Could not refresh the cart"), Retryable: pkgerrors.IsRetryable(err), Err: err}
	}
	c.metrics.IncSuccess(opRefresh)
	return c.Replace(ctx, cart)
}

// DeleteCart deletes the whole cart on the server and resets the local one to empty.
func (c *Controller) DeleteCart(ctx context.Context) Outcome {
	if c.closed() {
		return rejected(reasonClosed)
	}
	current := c.State().Cart
	if current.ID.IsZero() {
		return c.reject(ctx, opDeleteCart, reasonNoCart)
	}

	started := c.now()
	message, err := c.svc.DeleteCart(ctx, current.ID)
	c.metrics.ObserveDuration(opDeleteCart, c.now().Sub(started))
	if err != nil {
		notice := c.notice(NoticeError, types.LineRef{}, noticeMessage(err, "Could not delete the cart"))
		c.commit(func(s ControllerState) ControllerState {
			s.Notice = notice
			return s
		})
		c.metrics.IncFailure(opDeleteCart)
		c.logFailure(ctx, opDeleteCart, types.LineRef{}, err)
		return Outcome{Status: OutcomeFailed, Reason: notice.Message, Notice: notice, Retryable: pkgerrors.IsRetryable(err), Err: err}
	}

	notice := c.notice(NoticeInfo, types.LineRef{}, message)
	next, ok := c.commit(func(s ControllerState) ControllerState {
		s = replaced(s, types.EmptyCart(current.Store), "")
		s.Notice = notice
		return s
	})
	c.metrics.IncSuccess(opDeleteCart)
	if ok {
		c.persist(ctx, next.Cart)
	}
	c.logg.Info(c.logg.WithField(ctx, "operation", opDeleteCart), "cart.mutation.applied")
	return Outcome{Status: OutcomeApplied, Notice: notice}
}

// CheckoutOptions are the checkout fields chosen by the user. The cart id comes from the held cart.
type CheckoutOptions struct {
	ShippingMethodID types.RemoteID
	CouponCode       string
}

// Checkout creates a checkout for the held cart. A server warning is attached as a
// notice on an applied outcome; it never fails the flow.
func (c *Controller) Checkout(ctx context.Context, opts CheckoutOptions) (*types.Checkout, Outcome) {
	if c.closed() {
		return nil, rejected(reasonClosed)
	}
	current := c.State().Cart
	switch {
	case current.ID.IsZero():
		return nil, c.reject(ctx, opCheckout, reasonNoCart)
	case current.IsEmpty():
		return nil, c.reject(ctx, opCheckout, reasonEmptyCart)
	case opts.ShippingMethodID.IsZero():
		return nil, c.reject(ctx, opCheckout, reasonShippingMissing)
	}

	started := c.now()
	checkout, err := c.svc.CreateCheckout(ctx, CheckoutInput{
		CartID:           current.ID,
		ShippingMethodID: opts.ShippingMethodID,
		CouponCode:       opts.CouponCode,
	})
	c.metrics.ObserveDuration(opCheckout, c.now().Sub(started))
	if err == nil && checkout == nil {
		err = pkgerrors.New(pkgerrors.CodeDependency, checkoutFailedMessage)
	}
	if err != nil {
		message := checkoutFailedMessage
		if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
			message = typed.Message()
		}
		notice := c.notice(NoticeError, types.LineRef{}, message)
		c.commit(func(s ControllerState) ControllerState {
			s.Notice = notice
			return s
		})
		c.metrics.IncFailure(opCheckout)
		c.logFailure(ctx, opCheckout, types.LineRef{}, err)
		return nil, Outcome{Status: OutcomeFailed, Reason: message, Notice: notice, Retryable: pkgerrors.IsRetryable(err), Err: err}
	}

	c.metrics.IncSuccess(opCheckout)
	outcome := Outcome{Status: OutcomeApplied}
	if checkout.HasWarning() {
		notice := c.notice(NoticeWarning, types.LineRef{}, strings.TrimSpace(checkout.Warning))
		c.commit(func(s ControllerState) ControllerState {
			s.Notice = notice
			return s
		})
		outcome.Notice = notice
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"operation":   opCheckout,
		"checkout_id": checkout.ID.String(),
	}), "cart.mutation.applied")
	return checkout, outcome
}

// DismissNotice clears the current notice.
func (c *Controller) DismissNotice() {
	c.commit(func(s ControllerState) ControllerState {
		s.Notice = nil
		return s
	})
}

// Close ends the controller lifecycle. Subscribers receive a final closed state and are
// dropped; later intents are rejected. Close is idempotent.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.commit(func(s ControllerState) ControllerState {
			s.Closed = true
			return s
		})
		c.mu.Lock()
		c.subscribers = make(map[uint64]func(ControllerState))
		c.mu.Unlock()
		close(c.done)
	})
}

// commit applies fn to the current state and notifies subscribers in commit order.
// It reports false once the controller is closed.
func (c *Controller) commit(fn func(ControllerState) ControllerState) (ControllerState, bool) {
	c.mu.Lock()
	current := *c.state.Load()
	if current.Closed {
		c.mu.Unlock()
		return current, false
	}
	next := fn(current)
	next.Version = current.Version + 1
	c.state.Store(&next)

	subs := make([]func(ControllerState), 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		subs = append(subs, sub)
	}
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
	return next, true
}

func (c *Controller) reconcile(ctx context.Context, op string, ref types.LineRef, cart *types.Cart) Outcome {
	next, ok := c.commit(func(s ControllerState) ControllerState {
		return replaced(s, c.ingest(cart), ref.Key())
	})
	c.metrics.IncSuccess(op)
	if !ok {
		return Outcome{Status: OutcomeApplied}
	}
	c.persist(ctx, next.Cart)
	c.logg.Info(c.logg.WithFields(c.lineContext(ctx, ref), map[string]any{
		"operation": op,
		"items":     len(next.Cart.Items),
	}), "cart.mutation.applied")
	return Outcome{Status: OutcomeApplied}
}

func (c *Controller) revert(ctx context.Context, op string, ref types.LineRef, cause error, fallback string) Outcome {
	key := ref.Key()
	notice := c.notice(NoticeError, ref, noticeMessage(cause, fallback))
	c.commit(func(s ControllerState) ControllerState {
		if item, ok := s.Cart.FindItem(ref); ok && item.Key() == key {
			s.Quantities = withQuantity(s.Quantities, key, item.Quantity)
		} else {
			s.Quantities = withoutQuantity(s.Quantities, key)
		}
		s.Updating = withUpdating(s.Updating, key, false)
		s.Notice = notice
		return s
	})
	c.metrics.IncFailure(op)
	c.logFailure(ctx, op, ref, cause)
	return Outcome{
		Status:    OutcomeFailed,
		Reason:    notice.Message,
		Notice:    notice,
		Retryable: pkgerrors.IsRetryable(cause),
		Err:       cause,
	}
}

func (c *Controller) reject(ctx context.Context, op, reason string) Outcome {
	c.metrics.IncRejected(op)
	c.logg.Debug(c.logg.WithFields(ctx, map[string]any{
		"operation": op,
		"reason":    reason,
	}), "cart.mutation.rejected")
	return rejected(reason)
}

func (c *Controller) waitFailed(ctx context.Context, op string, ref types.LineRef, err error) Outcome {
	if errors.Is(err, errControllerClosed) {
		return rejected(reasonClosed)
	}
	c.metrics.IncFailure(op)
	c.logFailure(ctx, op, ref, err)
	return Outcome{Status: OutcomeFailed, Reason: "request cancelled", Err: err}
}

func (c *Controller) logFailure(ctx context.Context, op string, ref types.LineRef, err error) {
	fields := pkgerrors.Dump(err).Fields()
	fields["operation"] = op
	fields["retryable"] = pkgerrors.IsRetryable(err)
	c.logg.Error(c.logg.WithFields(c.lineContext(ctx, ref), fields), "cart.mutation.failed", err)
}

// lineContext tags ctx with the line being mutated, if any.
func (c *Controller) lineContext(ctx context.Context, ref types.LineRef) context.Context {
	if ref.SKU == "" {
		return ctx
	}
	ctx = c.logg.WithSKU(ctx, ref.SKU)
	if !ref.ComboInstanceID.IsZero() {
		ctx = c.logg.WithField(ctx, "combo_instance_id", ref.ComboInstanceID.String())
	}
	return ctx
}

// persist hands the confirmed cart to the snapshotter. Failures are logged and ignored.
func (c *Controller) persist(ctx context.Context, cart *types.Cart) {
	if c.snapshot == nil || cart == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotSaveTimeout)
	defer cancel()
	if err := c.snapshot.SaveCart(saveCtx, cart); err != nil {
		c.logg.Warn(c.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "cart.snapshot.save_failed")
	}
}

// acquire takes the per-line slot, waiting for an in-flight edit of the same line.
func (c *Controller) acquire(ctx context.Context, key string) (func(), error) {
	c.slotsMu.Lock()
	slot, ok := c.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		c.slots[key] = slot
	}
	c.slotsMu.Unlock()

	select {
	case <-c.done:
		return nil, errControllerClosed
	default:
	}

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errControllerClosed
	}
}

// resolve trims ref and fills in the combo instance when the sku alone names one line.
func (c *Controller) resolve(ref types.LineRef) (types.LineRef, string) {
	ref.SKU = strings.TrimSpace(ref.SKU)
	ref.ComboInstanceID = types.RemoteID(strings.TrimSpace(ref.ComboInstanceID.String()))
	if ref.SKU == "" {
		return ref, reasonMissingSKU
	}
	if !ref.ComboInstanceID.IsZero() {
		return ref, ""
	}
	cart := c.State().Cart
	if item, ok := cart.FindItem(ref); ok {
		return item.Ref(), ""
	}
	if cart.CountSKU(ref.SKU) > 1 {
		return ref, reasonAmbiguousLine
	}
	return ref, ""
}

// editable finds the line and refuses lines that cannot be mutated on their own.
func (c *Controller) editable(state ControllerState, ref types.LineRef) (types.CartItem, string) {
	if state.Closed {
		return types.CartItem{}, reasonClosed
	}
	item, ok := state.Cart.FindItem(ref)
	if !ok || item.Key() != ref.Key() {
		return types.CartItem{}, reasonUnknownSKU
	}
	if !item.InCombo() {
		return item, ""
	}
	group, ok := comboGroupOf(state.Grouped(), item.ComboInstanceID)
	if !ok || !group.WellFormed() {
		return types.CartItem{}, reasonMalformedCombo
	}
	if group.Combo.SKU != item.SKU {
		return types.CartItem{}, reasonComboChild
	}
	return item, ""
}

func (c *Controller) ingest(cart *types.Cart) *types.Cart {
	if cart == nil {
		return types.EmptyCart(c.State().Cart.Store)
	}
	out := cart.Clone()
	if out.Items == nil {
		out.Items = []types.CartItem{}
	}
	for idx := range out.Items {
		if !out.Items[idx].Kind.IsValid() {
			out.Items[idx].Kind = types.ClassifyItem(out.Items[idx], c.prefix)
		}
	}
	return out
}

func (c *Controller) notice(kind NoticeKind, ref types.LineRef, message string) *Notice {
	return &Notice{
		Kind:            kind,
		SKU:             ref.SKU,
		ComboInstanceID: ref.ComboInstanceID,
		Message:         message,
		At:              c.now(),
	}
}

func (c *Controller) closed() bool {
	return c.state.Load().Closed
}

// replaced swaps in cart, clears the settled line's updating flag and keeps the optimistic
// quantities of other in-flight lines that still exist.
func replaced(s ControllerState, cart *types.Cart, settled string) ControllerState {
	quantities := quantitiesFrom(cart)
	for key, updating := range s.Updating {
		if !updating || key == settled {
			continue
		}
		if _, ok := quantities[key]; !ok {
			continue
		}
		if qty, ok := s.Quantities[key]; ok {
			quantities[key] = qty
		}
	}
	s.Cart = cart
	s.Quantities = quantities
	if settled != "" {
		s.Updating = withUpdating(s.Updating, settled, false)
	}
	return s
}

// intendedQuantity computes the target quantity of an intent, or a rejection reason.
func intendedQuantity(item types.CartItem, action enums.QuantityAction, raw string) (int, string) {
	confirmed := item.Quantity
	maxQty := item.MaxQuantity()
	switch action {
	case enums.QuantityActionIncrement:
		if confirmed >= maxQty {
			return confirmed, ""
		}
		return confirmed + 1, ""
	case enums.QuantityActionDecrement:
		if confirmed <= 1 {
			return confirmed, ""
		}
		return confirmed - 1, ""
	case enums.QuantityActionSetQuantity:
		qty, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0, reasonNotNumeric
		}
		if qty < 1 {
			return 0, reasonBelowMinimum
		}
		if qty > maxQty {
			return 0, reasonAboveStock
		}
		return qty, ""
	default:
		return 0, reasonUnknownAction
	}
}

// noticeMessage prefers the server's structured detail over the generic fallback.
func noticeMessage(err error, fallback string) string {
	var apiErr *cartapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message(fallback)
	}
	return fallback
}

func withoutQuantity(in map[string]int, key string) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		if k != key {
			out[k] = v
		}
	}
	return out
}
