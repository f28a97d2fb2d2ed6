package conversation

// State is the position of a Loop in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingModelResponse
	StateInterpretingResponse
	StateAwaitingToolResult
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModelResponse:
		return "awaiting_model_response"
	case StateInterpretingResponse:
		return "interpreting_response"
	case StateAwaitingToolResult:
		return "awaiting_tool_result"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
