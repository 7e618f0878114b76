package cart

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	cartdto "github.com/angelmondragon/cartsync/api/controllers/cart/dto"
	"github.com/angelmondragon/cartsync/api/middleware"
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/pkg/enums"
	"github.com/angelmondragon/cartsync/pkg/types"
)

type stubCartService struct {
	mu          sync.Mutex
	cart        *types.Cart
	updateFn    func(cartsvc.UpdateQuantityInput) (*types.Cart, error)
	updateCalls int
	checkout    *types.Checkout
	checkoutErr error
}

func (s *stubCartService) FetchCart(ctx context.Context, storeID types.RemoteID) (*types.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		return types.EmptyCart(storeID), nil
	}
	cart := s.cart.Clone()
	cart.Store = storeID
	return cart, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, input cartsvc.RemoveItemInput) (*types.Cart, error) {
	return types.EmptyCart(input.StoreID), nil
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, input cartsvc.UpdateQuantityInput) (*types.Cart, error) {
	s.mu.Lock()
	s.updateCalls++
	fn := s.updateFn
	s.mu.Unlock()
	if fn == nil {
		return types.EmptyCart(input.StoreID), nil
	}
	return fn(input)
}

func (s *stubCartService) DeleteCart(ctx context.Context, cartID types.RemoteID) (string, error) {
	return "Cart deleted successfully", nil
}

func (s *stubCartService) CreateCheckout(ctx context.Context, input cartsvc.CheckoutInput) (*types.Checkout, error) {
	return s.checkout, s.checkoutErr
}

func (s *stubCartService) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCalls
}

func stockedItem(sku string, qty, stock int) types.CartItem {
	return types.CartItem{
		SKU:            sku,
		ProductID:      types.RemoteID("p-" + sku),
		Quantity:       qty,
		VariantDetails: &types.VariantDetails{Stock: &stock},
		Price:          decimal.NewFromInt(25),
	}
}

func newTestRegistry(t *testing.T, svc cartsvc.Service) *cartsvc.Registry {
	t.Helper()
	reg, err := cartsvc.NewRegistry(cartsvc.RegistryParams{
		Factory: func(token string) (cartsvc.Service, error) { return svc, nil },
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func newTestRouter(reg sessionRegistry, userID string) http.Handler {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID != "" {
				ctx = middleware.WithUserID(ctx, userID)
				ctx = middleware.WithAccessToken(ctx, "token-"+userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Post("/sessions", SessionOpen(reg, nil))
	router.Route("/sessions/{storeID}", func(r chi.Router) {
		r.Get("/", SessionFetch(reg, nil))
		r.Delete("/", SessionClose(reg, nil))
		r.Post("/refresh", SessionRefresh(reg, nil))
		r.Post("/items/{sku}/quantity", ItemQuantity(reg, nil))
		r.Delete("/items/{sku}", ItemRemove(reg, nil))
		r.Delete("/cart", CartDelete(reg, nil))
		r.Post("/checkout", CartCheckout(reg, nil))
		r.Delete("/notice", NoticeDismiss(reg, nil))
		r.Get("/events", SessionEvents(reg, time.Hour, nil))
	})
	return router
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: dest}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func openSession(t *testing.T, router http.Handler, storeID string) cartdto.StateView {
	t.Helper()
	resp := serve(router, http.MethodPost, "/sessions", `{"store_id": `+storeID+`}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	var view cartdto.StateView
	decodeData(t, resp, &view)
	return view
}

func TestSessionOpenCreated(t *testing.T) {
	svc := &stubCartService{cart: &types.Cart{ID: "c1", Items: []types.CartItem{stockedItem("A", 2, 5)}}}
	router := newTestRouter(newTestRegistry(t, svc), "u1")

	view := openSession(t, router, "7")
	if view.Cart == nil || view.Cart.ID != "c1" || view.Cart.Store != "7" {
		t.Fatalf("unexpected cart %+v", view.Cart)
	}
	if view.Quantities["A"] != 2 || view.ItemCount != 2 {
		t.Fatalf("unexpected quantities %+v count %d", view.Quantities, view.ItemCount)
	}
	if len(view.Singles) != 1 || view.Singles[0].Kind != enums.CartItemKindSingle {
		t.Fatalf("unexpected singles %+v", view.Singles)
	}

	resp := serve(router, http.MethodGet, "/sessions/7/", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestSessionOpenRequiresUser(t *testing.T) {
	router := newTestRouter(newTestRegistry(t, &stubCartService{}), "")

	resp := serve(router, http.MethodPost, "/sessions", `{"store_id": "7"}`)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestSessionOpenRequiresStore(t *testing.T) {
	router := newTestRouter(newTestRegistry(t, &stubCartService{}), "u1")

	resp := serve(router, http.MethodPost, "/sessions", `{}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSessionFetchNotFound(t *testing.T) {
	router := newTestRouter(newTestRegistry(t, &stubCartService{}), "u1")

	resp := serve(router, http.MethodGet, "/sessions/99/", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestItemQuantityRejectedWithoutRemoteCall(t *testing.T) {
	svc := &stubCartService{cart: &types.Cart{ID: "c1", Items: []types.CartItem{stockedItem("A", 2, 5)}}}
	router := newTestRouter(newTestRegistry(t, svc), "u1")
	openSession(t, router, "7")

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "not numeric", body: `{"action": "set_quantity", "quantity": "abc"}`, want: "quantity must be a whole number"},
		{name: "zero", body: `{"action": "set_quantity", "quantity": 0}`, want: "quantity must be at least 1"},
		{name: "above stock", body: `{"action": "set_quantity", "quantity": "10"}`, want: "quantity exceeds available stock"},
		{name: "missing", body: `{"action": "set_quantity", "quantity": null}`, want: "quantity must be a whole number"},
	}

	for _, tc := range cases {
		resp := serve(router, http.MethodPost, "/sessions/7/items/A/quantity", tc.body)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", tc.name, resp.Code)
		}
		var body cartdto.IntentResponse
		decodeData(t, resp, &body)
		if body.Outcome.Status != cartsvc.OutcomeRejected || body.Outcome.Reason != tc.want {
			t.Fatalf("%s: unexpected outcome %+v", tc.name, body.Outcome)
		}
		if body.State.Quantities["A"] != 2 {
			t.Fatalf("%s: quantity must stay confirmed, got %d", tc.name, body.State.Quantities["A"])
		}
	}
	if svc.calls() != 0 {
		t.Fatalf("expected no remote calls, got %d", svc.calls())
	}
}

func TestItemQuantityIncrementApplied(t *testing.T) {
	svc := &stubCartService{cart: &types.Cart{ID: "c1", Items: []types.CartItem{stockedItem("A", 1, 5)}}}
	svc.updateFn = func(input cartsvc.UpdateQuantityInput) (*types.Cart, error) {
		if input.Action != enums.QuantityActionIncrement || input.SKU != "A" || input.StoreID != "7" {
			t.Errorf("unexpected input %+v", input)
		}
		return &types.Cart{ID: "c1", Store: "7", Items: []types.CartItem{stockedItem("A", 2, 5)}, ItemsSubtotal: decimal.NewFromInt(50), Total: decimal.NewFromInt(50)}, nil
	}
	router := newTestRouter(newTestRegistry(t, svc), "u1")
	openSession(t, router, "7")

	resp := serve(router, http.MethodPost, "/sessions/7/items/A/quantity", `{"action": "increment"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var body cartdto.IntentResponse
	decodeData(t, resp, &body)
	if body.Outcome.Status != cartsvc.OutcomeApplied {
		t.Fatalf("unexpected outcome %+v", body.Outcome)
	}
	if body.State.Quantities["A"] != 2 || len(body.State.Updating) != 0 {
		t.Fatalf("unexpected state %+v", body.State)
	}
	if !body.State.Cart.Total.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected server total, got %s", body.State.Cart.Total)
	}
}

func TestItemQuantityTargetsComboInstance(t *testing.T) {
	comboCart := func(secondQty int) *types.Cart {
		return &types.Cart{ID: "c1", Store: "7", Items: []types.CartItem{
			{SKU: "COMBO-1", Quantity: 1, ComboInstanceID: "x1"},
			{SKU: "B", Quantity: 1, ComboInstanceID: "x1"},
			{SKU: "COMBO-1", Quantity: secondQty, ComboInstanceID: "x2"},
			{SKU: "B", Quantity: secondQty, ComboInstanceID: "x2"},
		}}
	}
	svc := &stubCartService{cart: comboCart(3)}
	svc.updateFn = func(input cartsvc.UpdateQuantityInput) (*types.Cart, error) {
		if input.SKU != "COMBO-1" || input.ComboInstanceID != "x2" {
			t.Errorf("unexpected input %+v", input)
		}
		return comboCart(4), nil
	}
	router := newTestRouter(newTestRegistry(t, svc), "u1")
	view := openSession(t, router, "7")
	if view.Quantities["COMBO-1@x1"] != 1 || view.Quantities["COMBO-1@x2"] != 3 {
		t.Fatalf("unexpected quantities %+v", view.Quantities)
	}

	resp := serve(router, http.MethodPost, "/sessions/7/items/COMBO-1/quantity", `{"action": "increment"}`)
	var body cartdto.IntentResponse
	decodeData(t, resp, &body)
	if body.Outcome.Status != cartsvc.OutcomeRejected {
		t.Fatalf("expected rejection without combo instance, got %+v", body.Outcome)
	}
	if svc.calls() != 0 {
		t.Fatalf("expected no remote calls, got %d", svc.calls())
	}

	resp = serve(router, http.MethodPost, "/sessions/7/items/COMBO-1/quantity?combo_instance_id=x2", `{"action": "increment"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	body = cartdto.IntentResponse{}
	decodeData(t, resp, &body)
	if body.Outcome.Status != cartsvc.OutcomeApplied {
		t.Fatalf("unexpected outcome %+v", body.Outcome)
	}
	if body.State.Quantities["COMBO-1@x1"] != 1 || body.State.Quantities["COMBO-1@x2"] != 4 {
		t.Fatalf("unexpected quantities %+v", body.State.Quantities)
	}
	if body.State.ItemCount != 10 {
		t.Fatalf("expected item count 10, got %d", body.State.ItemCount)
	}
}

func TestItemQuantityUnknownAction(t *testing.T) {
	svc := &stubCartService{cart: &types.Cart{ID: "c1", Items: []types.CartItem{stockedItem("A", 1, 5)}}}
	router := newTestRouter(newTestRegistry(t, svc), "u1")
	openSession(t, router, "7")

	resp := serve(router, http.MethodPost, "/sessions/7/items/A/quantity", `{"action": "double"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestStateViewHidesMalformedCombos(t *testing.T) {
	svc := &stubCartService{cart: &types.Cart{ID: "c1", Items: []types.CartItem{
		{SKU: "COMBO-1", Quantity: 1, ComboInstanceID: "x1"},
		{SKU: "B", Quantity: 1, ComboInstanceID: "x1"},
		{SKU: "C", Quantity: 1, ComboInstanceID: "orphan"},
		{SKU: "D", Quantity: 3},
	}}}
	router := newTestRouter(newTestRegistry(t, svc), "u1")

	view := openSession(t, router, "7")
	if len(view.Combos) != 1 || view.Combos[0].Combo.SKU != "COMBO-1" || view.Combos[0].InstanceID != "x1" {
		t.Fatalf("unexpected combos %+v", view.Combos)
	}
	if len(view.Combos[0].Children) != 1 || view.Combos[0].Children[0].SKU != "B" {
		t.Fatalf("unexpected children %+v", view.Combos[0].Children)
	}
	if len(view.Singles) != 1 || view.Singles[0].SKU != "D" {
		t.Fatalf("unexpected singles %+v", view.Singles)
	}
	if view.ItemCount != 6 {
		t.Fatalf("expected item count 6, got %d", view.ItemCount)
	}
}

func TestCartCheckoutWarningBecomesNotice(t *testing.T) {
	svc := &stubCartService{
		cart:     &types.Cart{ID: "c1", Items: []types.CartItem{stockedItem("A", 1, 5)}},
		checkout: &types.Checkout{ID: "k1", Total: decimal.NewFromInt(50000), Warning: "stock reducido"},
	}
	router := newTestRouter(newTestRegistry(t, svc), "u1")
	openSession(t, router, "7")

	resp := serve(router, http.MethodPost, "/sessions/7/checkout", `{"shipping_method_id": 3, "coupon_code": " SAVE "}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var body cartdto.IntentResponse
	decodeData(t, resp, &body)
	if body.Outcome.Status != cartsvc.OutcomeApplied || body.Checkout == nil {
		t.Fatalf("unexpected response %+v", body)
	}
	if !body.Checkout.Total.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("unexpected total %s", body.Checkout.Total)
	}
	if body.State.Notice == nil || body.State.Notice.Kind != cartsvc.NoticeWarning || body.State.Notice.Message != "stock reducido" {
		t.Fatalf("expected warning notice, got %+v", body.State.Notice)
	}

	resp = serve(router, http.MethodDelete, "/sessions/7/notice", "")
	var view cartdto.StateView
	decodeData(t, resp, &view)
	if view.Notice != nil {
		t.Fatalf("expected notice to be dismissed, got %+v", view.Notice)
	}
}

func TestCartCheckoutWithoutShippingRejected(t *testing.T) {
	svc := &stubCartService{cart: &types.Cart{ID: "c1", Items: []types.CartItem{stockedItem("A", 1, 5)}}}
	router := newTestRouter(newTestRegistry(t, svc), "u1")
	openSession(t, router, "7")

	resp := serve(router, http.MethodPost, "/sessions/7/checkout", `{}`)
	var body cartdto.IntentResponse
	decodeData(t, resp, &body)
	if body.Outcome.Status != cartsvc.OutcomeRejected || body.Outcome.Reason != "shipping method is required" {
		t.Fatalf("unexpected outcome %+v", body.Outcome)
	}
}

func TestCartDeleteEmptiesSession(t *testing.T) {
	svc := &stubCartService{cart: &types.Cart{ID: "c1", Items: []types.CartItem{stockedItem("A", 1, 5)}}}
	router := newTestRouter(newTestRegistry(t, svc), "u1")
	openSession(t, router, "7")

	resp := serve(router, http.MethodDelete, "/sessions/7/cart", "")
	var body cartdto.IntentResponse
	decodeData(t, resp, &body)
	if body.Outcome.Status != cartsvc.OutcomeApplied {
		t.Fatalf("unexpected outcome %+v", body.Outcome)
	}
	if len(body.State.Cart.Items) != 0 || body.State.Cart.Store != "7" || body.State.ItemCount != 0 {
		t.Fatalf("expected empty cart, got %+v", body.State.Cart)
	}
}

func TestSessionCloseThenNotFound(t *testing.T) {
	router := newTestRouter(newTestRegistry(t, &stubCartService{}), "u1")
	openSession(t, router, "7")

	resp := serve(router, http.MethodDelete, "/sessions/7/", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	resp = serve(router, http.MethodPost, "/sessions/7/items/A/quantity", `{"action": "increment"}`)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestSessionEventsStreamUntilClose(t *testing.T) {
	svc := &stubCartService{cart: &types.Cart{ID: "c1", Items: []types.CartItem{stockedItem("A", 1, 5)}}}
	reg := newTestRegistry(t, svc)
	router := newTestRouter(reg, "u1")
	openSession(t, router, "7")

	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/sessions/7/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	if first.Version != 0 || first.Type != "state" {
		t.Fatalf("unexpected first event %+v", first)
	}

	controller, ok := reg.Get(cartsvc.SessionKey{UserID: "u1", StoreID: "7"})
	if !ok {
		t.Fatal("expected open session")
	}
	controller.DismissNotice()
	second := readEvent(t, reader)
	if second.Version != 1 {
		t.Fatalf("expected version 1, got %d", second.Version)
	}

	if err := reg.Close(context.Background(), cartsvc.SessionKey{UserID: "u1", StoreID: "7"}); err != nil {
		t.Fatalf("close session: %v", err)
	}
	last := readEvent(t, reader)
	if !last.Data.Closed {
		t.Fatalf("expected closed state, got %+v", last.Data)
	}
}

type stateEvent struct {
	Type    string            `json:"type"`
	Version uint64            `json:"version"`
	Data    cartdto.StateView `json:"data"`
}

func readEvent(t *testing.T, reader *bufio.Reader) stateEvent {
	t.Helper()
	var event stateEvent
	var sawData bool
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			sawData = true
		case line == "" && sawData:
			return event
		}
	}
}
