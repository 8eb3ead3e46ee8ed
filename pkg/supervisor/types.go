package supervisor

// Status is the daemon's externally-visible notion of "what Kanata is
// currently doing" (spec §3's SupervisorState.lastStatus/focusStatus).
type Status struct {
	Layer  string
	Vks    []string
	Source string // "focus" or "external"
}

const (
	SourceFocus    = "focus"
	SourceExternal = "external"
)
