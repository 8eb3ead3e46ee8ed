package rules

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kanata-switcher/switchd/pkg/wire"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.json", strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("rules: embedded schema is invalid: %v", err))
	}
	schema, err := compiler.Compile("rules.json")
	if err != nil {
		panic(fmt.Sprintf("rules: embedded schema failed to compile: %v", err))
	}
	return schema
}

// rawEntry mirrors the JSON shape of one rule-list entry: either the
// `{"default": "layer"}` sentinel or a window/native-terminal rule.
type rawEntry struct {
	Default          *string     `json:"default,omitempty"`
	Class            *string     `json:"class,omitempty"`
	Title            *string     `json:"title,omitempty"`
	OnNativeTerminal *string     `json:"on_native_terminal,omitempty"`
	Layer            *string     `json:"layer,omitempty"`
	VirtualKey       *string     `json:"virtual_key,omitempty"`
	RawVkAction      [][2]string `json:"raw_vk_action,omitempty"`
	Fallthrough      bool        `json:"fallthrough,omitempty"`
}

// Parse decodes and validates a rule list from its JSON-encoded form,
// enforcing every invariant in spec §3: at most one default/native-terminal
// rule, window rules must carry class and/or title, `*` is a wildcard, the
// regex dialect must not use lookaround (enforced for free by Go's RE2
// engine refusing to compile it).
func Parse(data []byte) (*Set, error) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, &ValidationError{Index: -1, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, &ValidationError{Index: -1, Message: fmt.Sprintf("schema validation failed: %v", err)}
	}

	var entries []rawEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &ValidationError{Index: -1, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	var errs ValidationErrors
	set := &Set{}

	for i, entry := range entries {
		switch {
		case entry.Default != nil:
			if set.hasDefault {
				errs = append(errs, &ValidationError{Index: i, Message: "multiple default entries found, only one allowed"})
				continue
			}
			set.defaultLayer = *entry.Default
			set.hasDefault = true

		case entry.OnNativeTerminal != nil:
			if entry.Class != nil || entry.Title != nil {
				errs = append(errs, &ValidationError{Index: i, Message: "on_native_terminal cannot be combined with class or title"})
				continue
			}
			if entry.Layer != nil {
				errs = append(errs, &ValidationError{Index: i, Message: "on_native_terminal cannot be combined with layer"})
				continue
			}
			if set.nativeTerminal != nil {
				errs = append(errs, &ValidationError{Index: i, Message: "multiple on_native_terminal entries found, only one allowed"})
				continue
			}
			rawActions, err := parseRawVkActions(entry.RawVkAction)
			if err != nil {
				errs = append(errs, &ValidationError{Index: i, Message: err.Error()})
				continue
			}
			vk := ""
			if entry.VirtualKey != nil {
				vk = *entry.VirtualKey
			}
			set.nativeTerminal = &nativeTerminalRule{
				layer:        *entry.OnNativeTerminal,
				virtualKey:   vk,
				rawVkActions: rawActions,
			}

		default:
			wr, err := parseWindowRule(i, entry)
			if err != nil {
				errs = append(errs, &ValidationError{Index: i, Message: err.Error()})
				continue
			}
			set.windowRules = append(set.windowRules, wr)
		}
	}

	if err := errs.asError(); err != nil {
		return nil, err
	}
	return set, nil
}

func parseWindowRule(index int, entry rawEntry) (windowRule, error) {
	if entry.Class == nil && entry.Title == nil {
		return windowRule{}, fmt.Errorf("window rule must specify at least one of class, title")
	}

	classRe, err := compilePattern(entry.Class)
	if err != nil {
		return windowRule{}, fmt.Errorf("invalid class pattern: %w", err)
	}
	titleRe, err := compilePattern(entry.Title)
	if err != nil {
		return windowRule{}, fmt.Errorf("invalid title pattern: %w", err)
	}

	rawActions, err := parseRawVkActions(entry.RawVkAction)
	if err != nil {
		return windowRule{}, err
	}

	layer := ""
	if entry.Layer != nil {
		layer = *entry.Layer
	}
	vk := ""
	if entry.VirtualKey != nil {
		vk = *entry.VirtualKey
	}

	return windowRule{
		classRe:      classRe,
		titleRe:      titleRe,
		layer:        layer,
		virtualKey:   vk,
		rawVkActions: rawActions,
		fallthrough_: entry.Fallthrough,
		index:        index,
	}, nil
}

// compilePattern compiles a class/title pattern. nil and the sentinel "*"
// both mean "wildcard" (nil regex). Go's regexp package implements RE2,
// which structurally cannot express lookaround, so any pattern that
// compiles here already satisfies the "Perl-like, no lookaround" dialect
// constraint; unsupported constructs surface as an ordinary compile error.
func compilePattern(pattern *string) (*regexp.Regexp, error) {
	if pattern == nil || *pattern == "*" {
		return nil, nil
	}
	re, err := regexp.Compile(*pattern)
	if err != nil {
		return nil, err
	}
	return re, nil
}

func parseRawVkActions(raw [][2]string) ([]RawVkAction, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]RawVkAction, 0, len(raw))
	for _, pair := range raw {
		action, err := wire.ParseVkAction(pair[1])
		if err != nil {
			return nil, fmt.Errorf("raw_vk_action %q: %w", pair[0], err)
		}
		out = append(out, RawVkAction{Name: pair[0], Action: action})
	}
	return out, nil
}
