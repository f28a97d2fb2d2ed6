package domain

// ToolSessionSpec describes how to launch a tool-provider process.
// An inactive spec is never launched.
type ToolSessionSpec struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Active  bool              `json:"active"`
}

// AgentDescriptor is an immutable agent definition.
type AgentDescriptor struct {
	ID           string           `json:"id"`
	Model        string           `json:"model"`
	Instructions string           `json:"instructions"`
	Session      *ToolSessionSpec `json:"session,omitempty"`
	// KeepWarm keeps the tool session alive across tasks instead of
	// launching a fresh one per task.
	KeepWarm    bool     `json:"keep_warm"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// HasActiveSession reports whether running a task for this agent launches a process.
func (a AgentDescriptor) HasActiveSession() bool {
	return a.Session != nil && a.Session.Active
}
