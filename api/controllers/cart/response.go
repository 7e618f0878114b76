package cart

import (
	cartdto "github.com/angelmondragon/cartsync/api/controllers/cart/dto"
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/pkg/types"
)

func newStateView(state cartsvc.ControllerState) cartdto.StateView {
	grouped := state.Grouped()

	combos := make([]cartdto.ComboView, 0, len(grouped.Combos))
	for _, group := range grouped.WellFormed() {
		combos = append(combos, cartdto.ComboView{
			InstanceID: group.InstanceID,
			Combo:      *group.Combo,
			Children:   group.Children,
		})
	}

	count := 0
	if state.Cart != nil {
		for _, item := range state.Cart.Items {
			qty, ok := state.DisplayedQuantity(item.Ref())
			if !ok {
				qty = item.Quantity
			}
			count += qty
		}
	}

	return cartdto.StateView{
		Cart:       state.Cart,
		Singles:    grouped.Singles,
		Combos:     combos,
		Quantities: state.Quantities,
		Updating:   state.Updating,
		Notice:     state.Notice,
		ItemCount:  count,
		Savings:    state.Cart.Savings(),
		Version:    state.Version,
		Closed:     state.Closed,
	}
}

func newIntentResponse(outcome cartsvc.Outcome, state cartsvc.ControllerState, checkout *types.Checkout) cartdto.IntentResponse {
	return cartdto.IntentResponse{
		Outcome:  outcome,
		State:    newStateView(state),
		Checkout: checkout,
	}
}
