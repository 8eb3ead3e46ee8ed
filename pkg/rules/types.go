// Package rules parses a declarative rule list into an internal form and
// matches focus events against it, producing an ordered FocusActions plan.
package rules

import (
	"regexp"

	"github.com/kanata-switcher/switchd/pkg/wire"
)

// FocusEvent is a (windowClass, windowTitle) pair. The pair ("", "") denotes
// "no focused window".
type FocusEvent struct {
	Class string
	Title string
}

// Unfocused reports whether this event denotes "no focused window".
func (e FocusEvent) Unfocused() bool { return e.Class == "" && e.Title == "" }

// RawVkAction is a (name, action) pair fired once per matching focus event,
// fire-and-forget.
type RawVkAction struct {
	Name   string
	Action wire.VkAction
}

// windowRule is the internal, validated form of a WindowRule.
type windowRule struct {
	classRe      *regexp.Regexp // nil means wildcard
	titleRe      *regexp.Regexp // nil means wildcard
	layer        string         // "" means absent
	virtualKey   string         // "" means absent
	rawVkActions []RawVkAction
	fallthrough_ bool
	index        int // position in the original rule list
}

// nativeTerminalRule is the internal form of the at-most-one NativeTerminalRule.
type nativeTerminalRule struct {
	layer        string
	virtualKey   string
	rawVkActions []RawVkAction
}

// Set is a parsed, validated, immutable rule set.
type Set struct {
	defaultLayer   string // "" means none configured; fall back to Kanata's advertised layer
	hasDefault     bool
	windowRules    []windowRule
	nativeTerminal *nativeTerminalRule
}

// DefaultLayer returns the configured default layer and whether one was
// configured at all (as opposed to falling back to Kanata's first
// LayerChange).
func (s *Set) DefaultLayer() (layer string, ok bool) {
	return s.defaultLayer, s.hasDefault
}

// FocusEntryKind tags the variant of a FocusActions entry.
type FocusEntryKind int

const (
	EntryChangeLayer FocusEntryKind = iota
	EntryPressVk
	EntryRawVkAction
)

// FocusEntry is one entry of a FocusActions plan.
type FocusEntry struct {
	Kind     FocusEntryKind
	Layer    string        // valid when Kind == EntryChangeLayer
	VkName   string        // valid when Kind == EntryPressVk or EntryRawVkAction
	VkAction wire.VkAction // valid when Kind == EntryRawVkAction
}

func changeLayerEntry(layer string) FocusEntry { return FocusEntry{Kind: EntryChangeLayer, Layer: layer} }
func pressVkEntry(name string) FocusEntry      { return FocusEntry{Kind: EntryPressVk, VkName: name} }
func rawVkEntry(name string, action wire.VkAction) FocusEntry {
	return FocusEntry{Kind: EntryRawVkAction, VkName: name, VkAction: action}
}

// FocusActions is the ordered plan produced by matching a focus event
// against a rule Set.
type FocusActions []FocusEntry

// PressedVks extracts the ordered list of PressVk names from a plan,
// duplicates preserved, ties broken by first occurrence.
func (p FocusActions) PressedVks() []string {
	var out []string
	for _, e := range p {
		if e.Kind == EntryPressVk {
			out = append(out, e.VkName)
		}
	}
	return out
}
