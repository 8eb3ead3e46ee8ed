// Package reducer implements the focus reducer (spec §4.2): given the
// previously-held managed VK set and a new FocusActions plan, it emits the
// ordered diff of Kanata wire actions — releases before presses, VKs
// released in the reverse of their press order.
package reducer

import (
	"github.com/kanata-switcher/switchd/pkg/rules"
	"github.com/kanata-switcher/switchd/pkg/wire"
)

// Reduce computes the wire actions to send to Kanata and the next managed-VK
// set, given the previously-held managed VKs (ordered, oldest press first)
// and the new plan.
//
// Procedure (spec §4.2):
//  1. Extract newManagedVks, the ordered PressVk names in plan.
//  2. Release every VK in prevManagedVks no longer in newManagedVks, in
//     reverse (bottom-to-top) order — this is always the first batch of
//     wire actions, preceding any press.
//  3. Walk plan in order: ChangeLayer passes through; PressVk is emitted
//     only if the key wasn't already held (re-press suppressed); RawVkAction
//     passes through unconditionally.
func Reduce(prevManagedVks []string, plan rules.FocusActions) (wireActions []wire.Action, nextManagedVks []string) {
	newManagedVks := plan.PressedVks()
	held := make(map[string]bool, len(newManagedVks))
	for _, vk := range newManagedVks {
		held[vk] = true
	}

	for i := len(prevManagedVks) - 1; i >= 0; i-- {
		vk := prevManagedVks[i]
		if !held[vk] {
			wireActions = append(wireActions, wire.NewVkAction(vk, wire.Release))
		}
	}

	prevHeld := make(map[string]bool, len(prevManagedVks))
	for _, vk := range prevManagedVks {
		prevHeld[vk] = true
	}

	for _, entry := range plan {
		switch entry.Kind {
		case rules.EntryChangeLayer:
			wireActions = append(wireActions, wire.NewChangeLayer(entry.Layer))
		case rules.EntryPressVk:
			if !prevHeld[entry.VkName] {
				wireActions = append(wireActions, wire.NewVkAction(entry.VkName, wire.Press))
			}
		case rules.EntryRawVkAction:
			wireActions = append(wireActions, wire.NewVkAction(entry.VkName, entry.VkAction))
		}
	}

	return wireActions, newManagedVks
}
