package cart

import (
	"github.com/angelmondragon/cartsync/pkg/enums"
	"github.com/angelmondragon/cartsync/pkg/types"
)

// ComboGroup is one combo purchase: its root line and the bundled children.
// A nil Combo means the root never arrived and the group is malformed.
type ComboGroup struct {
	InstanceID types.RemoteID   `json:"combo_instance_id"`
	Combo      *types.CartItem  `json:"combo"`
	Children   []types.CartItem `json:"children"`
}

// WellFormed reports whether the group has its root line.
func (g ComboGroup) WellFormed() bool {
	return g.Combo != nil
}

// Grouped partitions cart lines into standalone items and combo groups.
type Grouped struct {
	Singles []types.CartItem `json:"singles"`
	Combos  []ComboGroup     `json:"combos"`
}

// WellFormed returns the combo groups that can be rendered and edited.
func (g Grouped) WellFormed() []ComboGroup {
	out := make([]ComboGroup, 0, len(g.Combos))
	for _, group := range g.Combos {
		if group.WellFormed() {
			out = append(out, group)
		}
	}
	return out
}

// Group splits items into singles and combo groups in a single pass.
// Singles keep their relative order, groups appear in order of first sight, and
// children keep arrival order. Items are copied; the input is never modified.
func Group(items []types.CartItem) Grouped {
	grouped := Grouped{
		Singles: []types.CartItem{},
		Combos:  []ComboGroup{},
	}
	index := make(map[types.RemoteID]int)

	for _, item := range items {
		if !item.InCombo() {
			grouped.Singles = append(grouped.Singles, item.Clone())
			continue
		}

		pos, ok := index[item.ComboInstanceID]
		if !ok {
			pos = len(grouped.Combos)
			index[item.ComboInstanceID] = pos
			grouped.Combos = append(grouped.Combos, ComboGroup{
				InstanceID: item.ComboInstanceID,
				Children:   []types.CartItem{},
			})
		}

		group := &grouped.Combos[pos]
		// A second root under the same id is kept as a child so no line is lost.
		if isComboRoot(item) && group.Combo == nil {
			root := item.Clone()
			group.Combo = &root
			continue
		}
		group.Children = append(group.Children, item.Clone())
	}

	return grouped
}

func isComboRoot(item types.CartItem) bool {
	kind := item.Kind
	if !kind.IsValid() {
		kind = types.ClassifyItem(item, types.DefaultComboRootPrefix)
	}
	return kind == enums.CartItemKindComboRoot
}

// comboGroupOf returns the group of a combo instance.
func comboGroupOf(grouped Grouped, instanceID types.RemoteID) (ComboGroup, bool) {
	for _, group := range grouped.Combos {
		if group.InstanceID == instanceID {
			return group, true
		}
	}
	return ComboGroup{}, false
}
