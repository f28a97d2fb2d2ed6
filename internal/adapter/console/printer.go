package console

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"ollama-mcp-agents/internal/domain"
)

// MaxContentWidth is the word-wrap width for rendered markdown.
const MaxContentWidth = 100

// CheckStatus is the outcome of a diagnostic check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// Printer writes styled output to a writer.
type Printer struct {
	w     io.Writer
	width int
	plain bool
	md    *glamour.TermRenderer
}

// PrinterOption configures a Printer.
type PrinterOption func(*Printer)

// WithWidth sets the markdown wrap width.
func WithWidth(n int) PrinterOption {
	return func(p *Printer) {
		if n > 0 {
			p.width = n
		}
	}
}

// WithPlain disables markdown rendering; answers are written verbatim.
func WithPlain() PrinterOption {
	return func(p *Printer) { p.plain = true }
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, opts ...PrinterOption) *Printer {
	p := &Printer{w: w, width: MaxContentWidth}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Answer renders a model answer as markdown.
func (p *Printer) Answer(text string) {
	fmt.Fprintln(p.w, p.markdown(text))
}

func (p *Printer) markdown(text string) string {
	if p.plain || strings.TrimSpace(text) == "" {
		return text
	}
	if p.md == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(p.width),
		)
		if err != nil {
			return text
		}
		p.md = r
	}
	out, err := p.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// Transcript writes every message of a conversation in order.
func (p *Printer) Transcript(msgs []domain.Message) {
	for _, m := range msgs {
		fmt.Fprintf(p.w, "%s %s\n", Dim.Render(fmt.Sprintf("#%d", m.Ordinal)), roleLabel(m))
		switch {
		case len(m.ToolCalls) > 0:
			if m.Content != "" {
				fmt.Fprintf(p.w, "  %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(p.w, "  %s %s(%s) %s\n", Symbols.ArrowR, tc.Name, string(tc.Arguments), Dim.Render(tc.ID))
			}
		case m.Role == domain.RoleAssistant:
			fmt.Fprintln(p.w, p.markdown(m.Content))
		default:
			fmt.Fprintf(p.w, "  %s\n", indent(m.Content))
		}
	}
}

func roleLabel(m domain.Message) string {
	switch m.Role {
	case domain.RoleUser:
		return UserLabel.Render("user")
	case domain.RoleAssistant:
		return AssistantLabel.Render("assistant")
	case domain.RoleSystem:
		return SystemLabel.Render("system")
	case domain.RoleTool:
		label := "tool " + m.ToolName
		if m.ToolCallID != "" {
			label += " (" + m.ToolCallID + ")"
		}
		if m.IsError {
			return ErrorLabel.Render(label + " error")
		}
		return ToolLabel.Render(label)
	default:
		return Bold.Render(m.Role)
	}
}

// Tools lists the tools an agent can call with their parameters.
func (p *Printer) Tools(agentID string, tools []domain.ToolDescriptor) {
	fmt.Fprintln(p.w, Title.Render(fmt.Sprintf("%s: %d tool(s)", agentID, len(tools))))
	for _, t := range tools {
		fmt.Fprintf(p.w, "  %s %s", Symbols.Bullet, Bold.Render(t.Name))
		if t.Description != "" {
			fmt.Fprintf(p.w, " %s", TextMuted.Render(t.Description))
		}
		fmt.Fprintln(p.w)
		for _, param := range parameters(t.Parameters) {
			line := fmt.Sprintf("      %s %s", param.name, TextInfo.Render(param.typ))
			if param.required {
				line += " " + TextWarning.Render("required")
			}
			if param.description != "" {
				line += " " + Dim.Render(param.description)
			}
			fmt.Fprintln(p.w, line)
		}
	}
}

type parameter struct {
	name        string
	typ         string
	description string
	required    bool
}

// parameters extracts the top-level properties of an object schema, sorted
// by name. Schemas it cannot read yield nothing.
func parameters(schema json.RawMessage) []parameter {
	var s struct {
		Properties map[string]struct {
			Type        any    `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if len(schema) == 0 || json.Unmarshal(schema, &s) != nil {
		return nil
	}
	out := make([]parameter, 0, len(s.Properties))
	for name, prop := range s.Properties {
		typ := "any"
		switch v := prop.Type.(type) {
		case string:
			typ = v
		case []any:
			parts := make([]string, 0, len(v))
			for _, x := range v {
				parts = append(parts, fmt.Sprint(x))
			}
			typ = strings.Join(parts, "|")
		}
		out = append(out, parameter{
			name:        name,
			typ:         typ,
			description: prop.Description,
			required:    slices.Contains(s.Required, name),
		})
	}
	slices.SortFunc(out, func(a, b parameter) int { return strings.Compare(a.name, b.name) })
	return out
}

// Agents lists registered agents. status, when non-nil, maps an agent ID to
// the result of its health check.
func (p *Printer) Agents(agents []domain.AgentDescriptor, status map[string]error) {
	for _, a := range agents {
		tools := "no tools"
		switch {
		case a.Session == nil:
		case a.Session.Active:
			tools = "mcp: " + strings.TrimSpace(a.Session.Command+" "+strings.Join(a.Session.Args, " "))
		default:
			tools = "mcp: inactive"
		}
		line := fmt.Sprintf("  %s %s %s %s", Symbols.Bullet, Bold.Render(a.ID), TextInfo.Render(a.Model), TextMuted.Render(tools))
		if a.KeepWarm {
			line += " " + Dim.Render("(keep-warm)")
		}
		if status != nil {
			if err, ok := status[a.ID]; ok {
				if err != nil {
					line += " " + TextError.Render(Symbols.Error+" "+string(domain.ErrorCodeOf(err)))
				} else {
					line += " " + TextSuccess.Render(Symbols.Success)
				}
			}
		}
		fmt.Fprintln(p.w, line)
	}
}

// Runs lists persisted runs, one per line.
func (p *Printer) Runs(runs []domain.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(p.w, TextMuted.Render("no runs recorded"))
		return
	}
	for _, r := range runs {
		status := TextSuccess.Render(Symbols.Success)
		if r.Status != domain.RunStatusSucceeded {
			status = TextError.Render(Symbols.Error + " " + string(r.ErrorCode))
		}
		fmt.Fprintf(p.w, "%s %s %s %s %s\n",
			Dim.Render(r.StartedAt.Local().Format(time.DateTime)),
			Bold.Render(r.ID),
			TextInfo.Render(r.AgentID),
			status,
			truncate(r.Task, 60),
		)
	}
}

// Progress writes a live line for tool call events and ignores the rest.
func (p *Printer) Progress(e domain.Event) {
	var tc domain.ToolCallPayload
	switch e.Type {
	case domain.EventToolCallStarted:
		if e.DecodePayload(&tc) != nil {
			return
		}
		fmt.Fprintf(p.w, "  %s %s %s\n", ToolLabel.Render(Symbols.ArrowR+" "+tc.Name), Dim.Render(string(tc.Arguments)), Dim.Render(tc.CallID))
	case domain.EventToolCallCompleted:
		if e.DecodePayload(&tc) != nil {
			return
		}
		if tc.IsError {
			fmt.Fprintf(p.w, "  %s %s\n", ErrorLabel.Render(Symbols.Error+" "+tc.Name), truncate(tc.Result, 80))
			return
		}
		fmt.Fprintf(p.w, "  %s %s\n", TextSuccess.Render(Symbols.Success+" "+tc.Name), truncate(tc.Result, 80))
	}
}

// Check writes one diagnostic result.
func (p *Printer) Check(status CheckStatus, name, message, fix string) {
	var icon string
	switch status {
	case StatusPass:
		icon = TextSuccess.Render("[PASS]")
	case StatusWarn:
		icon = TextWarning.Render("[WARN]")
	case StatusFail:
		icon = TextError.Render("[FAIL]")
	default:
		icon = "[????]"
	}
	fmt.Fprintf(p.w, "  %s %s: %s\n", icon, name, message)
	if fix != "" {
		fmt.Fprintf(p.w, "      Fix: %s\n", fix)
	}
}

// Error writes a humanized error.
func (p *Printer) Error(err error) {
	fe := Humanize(err)
	fmt.Fprintln(p.w, TextError.Render(Symbols.Error+" ")+fe.Render())
	if fe.Raw != "" && fe.Raw != fe.Message {
		fmt.Fprintln(p.w, Dim.Render("  "+fe.Raw))
	}
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
