package rules

// Match translates a focus event into an ordered FocusActions plan, per
// spec §4.1. It is a pure function of (rules, event, nativeTTY,
// defaultLayer): identical inputs always produce an identical plan. All
// "what changed since last time" bookkeeping lives in the reducer, not
// here — this keeps the matcher trivially testable and deterministic.
func (s *Set) Match(event FocusEvent, nativeTTY bool, defaultLayer string) FocusActions {
	if nativeTTY {
		return s.matchNativeTerminal(defaultLayer)
	}
	if event.Unfocused() {
		return FocusActions{changeLayerEntry(defaultLayer)}
	}
	return s.matchWindow(event, defaultLayer)
}

func (s *Set) matchNativeTerminal(defaultLayer string) FocusActions {
	rule := s.nativeTerminal
	if rule == nil {
		return FocusActions{changeLayerEntry(defaultLayer)}
	}
	return ruleEntries(rule.layer, rule.virtualKey, rule.rawVkActions)
}

// matchWindow iterates WindowRules top-to-bottom. A non-fallthrough match
// stops iteration immediately; a fallthrough match appends its entries and
// continues to the next rule. Non-matching rules are always skipped
// regardless of their own fallthrough flag.
func (s *Set) matchWindow(event FocusEvent, defaultLayer string) FocusActions {
	var plan FocusActions
	matched := false

	for _, rule := range s.windowRules {
		if !ruleMatches(rule, event) {
			continue
		}
		matched = true
		plan = append(plan, ruleEntries(rule.layer, rule.virtualKey, rule.rawVkActions)...)
		if !rule.fallthrough_ {
			break
		}
	}

	if !matched {
		return FocusActions{changeLayerEntry(defaultLayer)}
	}
	return plan
}

// ruleEntries renders a rule's (layer, vk, rawActions) in the fixed
// per-rule order required by spec §4.1: ChangeLayer, then PressVk, then
// each RawVkAction in the order given.
func ruleEntries(layer, virtualKey string, rawActions []RawVkAction) FocusActions {
	var entries FocusActions
	if layer != "" {
		entries = append(entries, changeLayerEntry(layer))
	}
	if virtualKey != "" {
		entries = append(entries, pressVkEntry(virtualKey))
	}
	for _, a := range rawActions {
		entries = append(entries, rawVkEntry(a.Name, a.Action))
	}
	return entries
}

func ruleMatches(rule windowRule, event FocusEvent) bool {
	if rule.classRe != nil && !rule.classRe.MatchString(event.Class) {
		return false
	}
	if rule.titleRe != nil && !rule.titleRe.MatchString(event.Title) {
		return false
	}
	return true
}
