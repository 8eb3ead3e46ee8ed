// Package wire defines the Kanata line-protocol message shapes shared by the
// rule matcher, the focus reducer, and the Kanata client.
package wire

import "fmt"

// VkAction is one of the four actions Kanata's ActOnFakeKey message accepts.
type VkAction int

const (
	Press VkAction = iota
	Release
	Tap
	Toggle
)

func (a VkAction) String() string {
	switch a {
	case Press:
		return "Press"
	case Release:
		return "Release"
	case Tap:
		return "Tap"
	case Toggle:
		return "Toggle"
	default:
		return "Unknown"
	}
}

// ParseVkAction parses the action names accepted in rule config's
// raw_vk_action entries.
func ParseVkAction(s string) (VkAction, error) {
	switch s {
	case "Press":
		return Press, nil
	case "Release":
		return Release, nil
	case "Tap":
		return Tap, nil
	case "Toggle":
		return Toggle, nil
	default:
		return 0, fmt.Errorf("unknown virtual key action %q", s)
	}
}

// ActionKind discriminates the two Action variants. A plain non-empty check
// on ChangeLayer isn't enough: the Kanata client represents "switch to the
// default layer, whatever that turns out to be" as a ChangeLayer action with
// an empty layer name, deferred until a default becomes known.
type ActionKind int

const (
	ChangeLayerKind ActionKind = iota
	VkActionKind
)

// Action is a single outgoing Kanata protocol message: either a layer
// change or a fake-key action. It is the unit the reducer emits and the
// Kanata client sends on the wire.
type Action struct {
	Kind        ActionKind
	ChangeLayer string   // the target layer when Kind == ChangeLayerKind; may be empty (deferred default)
	VkName      string   // valid when Kind == VkActionKind
	VkAction    VkAction // valid when Kind == VkActionKind
}

// IsChangeLayer reports whether this action is a layer change.
func (a Action) IsChangeLayer() bool { return a.Kind == ChangeLayerKind }

// NewChangeLayer builds a ChangeLayer wire action. layer may be empty,
// meaning "the default layer, not yet known" — see pkg/kanata.
func NewChangeLayer(layer string) Action {
	return Action{Kind: ChangeLayerKind, ChangeLayer: layer}
}

// NewVkAction builds a fake-key wire action.
func NewVkAction(name string, action VkAction) Action {
	return Action{Kind: VkActionKind, VkName: name, VkAction: action}
}

func (a Action) String() string {
	if a.IsChangeLayer() {
		return fmt.Sprintf("ChangeLayer(%s)", a.ChangeLayer)
	}
	return fmt.Sprintf("%s(%s)", a.VkAction, a.VkName)
}

// outgoing wire message shapes, bit-exact per spec: {"ChangeLayer":{"new":"<layer>"}}
// and {"ActOnFakeKey":{"name":"<name>","action":"Press"|"Release"|"Tap"|"Toggle"}}.

type changeLayerMsg struct {
	ChangeLayer changeLayerPayload `json:"ChangeLayer"`
}

type changeLayerPayload struct {
	New string `json:"new"`
}

type actOnFakeKeyMsg struct {
	ActOnFakeKey actOnFakeKeyPayload `json:"ActOnFakeKey"`
}

type actOnFakeKeyPayload struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

// Encode renders the action as its wire JSON message, without the trailing
// newline (the client is responsible for framing).
func (a Action) Encode() ([]byte, error) {
	if a.IsChangeLayer() {
		return marshal(changeLayerMsg{ChangeLayer: changeLayerPayload{New: a.ChangeLayer}})
	}
	return marshal(actOnFakeKeyMsg{ActOnFakeKey: actOnFakeKeyPayload{
		Name:   a.VkName,
		Action: a.VkAction.String(),
	}})
}

// layerChangeMsg is the only incoming message relevant to the core: Kanata's
// unsolicited or replied layer notification. Unknown incoming objects are
// ignored by the caller, not by this package.
type layerChangeMsg struct {
	LayerChange *layerChangePayload `json:"LayerChange"`
}

type layerChangePayload struct {
	New string `json:"new"`
}

// DecodeLayerChange attempts to parse a line as a LayerChange message. ok is
// false for any other shape, including malformed JSON, which callers should
// treat as "unknown incoming object, ignore" per spec.
func DecodeLayerChange(line []byte) (layer string, ok bool) {
	var msg layerChangeMsg
	if err := unmarshal(line, &msg); err != nil {
		return "", false
	}
	if msg.LayerChange == nil {
		return "", false
	}
	return msg.LayerChange.New, true
}
