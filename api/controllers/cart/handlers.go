package cart

import (
	"context"
	"net/http"
	"strings"

	cartdto "github.com/angelmondragon/cartsync/api/controllers/cart/dto"
	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/api/validators"
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

type sessionRegistry interface {
	Open(ctx context.Context, key cartsvc.SessionKey, token string) (*cartsvc.Controller, error)
	Get(key cartsvc.SessionKey) (*cartsvc.Controller, bool)
	Close(ctx context.Context, key cartsvc.SessionKey) error
}

func registryUnavailable(reg sessionRegistry, logg *logger.Logger, w http.ResponseWriter, r *http.Request) bool {
	if reg != nil {
		return false
	}
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart sessions unavailable"))
	return true
}

// SessionOpen opens (or reuses) the caller's cart session for a store.
func SessionOpen(reg sessionRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cartdto.OpenSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := cartsvc.SessionKey{UserID: userID, StoreID: payload.StoreID}
		controller, err := reg.Open(r.Context(), key, middleware.AccessTokenFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newStateView(controller.State()))
	}
}

// SessionFetch returns the state view of an open session.
func SessionFetch(reg sessionRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}
		controller, _, err := controllerFor(reg, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newStateView(controller.State()))
	}
}

// SessionClose ends the session and flushes its cart snapshot.
func SessionClose(reg sessionRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}
		key, err := sessionKeyFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := reg.Close(r.Context(), key); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart snapshot not saved"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "closed"})
	}
}

// SessionRefresh re-reads the server cart into the session.
func SessionRefresh(reg sessionRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}
		controller, _, err := controllerFor(reg, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome := controller.Refresh(r.Context())
		responses.WriteSuccess(w, newIntentResponse(outcome, controller.State(), nil))
	}
}

// ItemQuantity applies an increment, decrement or set_quantity intent. Repeated combo
// skus are addressed with the combo_instance_id query parameter.
func ItemQuantity(reg sessionRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}
		controller, _, err := controllerFor(reg, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ref, err := lineRefFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cartdto.QuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome := controller.ChangeQuantity(r.Context(), ref, payload.Action, payload.Quantity.String())
		responses.WriteSuccess(w, newIntentResponse(outcome, controller.State(), nil))
	}
}

// ItemRemove removes a line (or a whole combo through its root sku).
func ItemRemove(reg sessionRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}
		controller, _, err := controllerFor(reg, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ref, err := lineRefFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome := controller.Remove(r.Context(), ref)
		responses.WriteSuccess(w, newIntentResponse(outcome, controller.State(), nil))
	}
}

// CartDelete deletes the session's cart on the server.
func CartDelete(reg sessionRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}
		controller, _, err := controllerFor(reg, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome := controller.DeleteCart(r.Context())
		responses.WriteSuccess(w, newIntentResponse(outcome, controller.State(), nil))
	}
}

// CartCheckout creates a checkout for the session's cart.
func CartCheckout(reg sessionRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}
		controller, _, err := controllerFor(reg, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cartdto.CheckoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		checkout, outcome := controller.Checkout(r.Context(), cartsvc.CheckoutOptions{
			ShippingMethodID: payload.ShippingMethodID,
			CouponCode:       strings.TrimSpace(payload.CouponCode),
		})
		responses.WriteSuccess(w, newIntentResponse(outcome, controller.State(), checkout))
	}
}

// NoticeDismiss clears the session notice.
func NoticeDismiss(reg sessionRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}
		controller, _, err := controllerFor(reg, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		controller.DismissNotice()
		responses.WriteSuccess(w, newStateView(controller.State()))
	}
}
