package cart

import (
	"net/http"

	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/api/validators"
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/types"
)

const (
	maxStoreIDLen = 64
	maxSKULen     = 128
	maxComboIDLen = 64

	comboInstanceParam = "combo_instance_id"
)

func userIDFromContext(r *http.Request) (string, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, nil
}

func sessionKeyFromRequest(r *http.Request) (cartsvc.SessionKey, error) {
	userID, err := userIDFromContext(r)
	if err != nil {
		return cartsvc.SessionKey{}, err
	}
	storeID, err := validators.PathParam(r, "storeID", maxStoreIDLen)
	if err != nil {
		return cartsvc.SessionKey{}, err
	}
	return cartsvc.SessionKey{UserID: userID, StoreID: types.RemoteID(storeID)}, nil
}

// lineRefFromRequest reads the sku path parameter and the optional combo instance query.
func lineRefFromRequest(r *http.Request) (types.LineRef, error) {
	sku, err := validators.PathParam(r, "sku", maxSKULen)
	if err != nil {
		return types.LineRef{}, err
	}
	return types.LineRef{
		SKU:             sku,
		ComboInstanceID: types.RemoteID(validators.QueryParam(r, comboInstanceParam, maxComboIDLen)),
	}, nil
}

func controllerFor(reg sessionRegistry, r *http.Request) (*cartsvc.Controller, cartsvc.SessionKey, error) {
	key, err := sessionKeyFromRequest(r)
	if err != nil {
		return nil, key, err
	}
	controller, ok := reg.Get(key)
	if !ok {
		return nil, key, pkgerrors.New(pkgerrors.CodeNotFound, "cart session not found")
	}
	return controller, key, nil
}
