package prompt

import (
	"fmt"
	"strings"
	"time"
)

// SystemPromptRenderer produces the leading system message. It is invoked
// fresh on every context build, never cached, so time-sensitive content
// stays current.
type SystemPromptRenderer interface {
	Render(toolNames []string) string
}

// Persona is the default system prompt renderer: identity, instructions
// and the available tool names.
type Persona struct {
	Name         string
	Instructions string
}

// Render builds the system prompt.
func (p Persona) Render(toolNames []string) string {
	var sb strings.Builder

	name := p.Name
	if name == "" {
		name = "Assistant"
	}
	fmt.Fprintf(&sb, "You are %s, a personal AI assistant.\n", name)

	if p.Instructions != "" {
		sb.WriteString("\n")
		sb.WriteString(p.Instructions)
		sb.WriteString("\n")
	}

	if len(toolNames) > 0 {
		fmt.Fprintf(&sb, "\nAvailable tools: %s\n", strings.Join(toolNames, ", "))
	}

	fmt.Fprintf(&sb, "\nCurrent time: %s\n", time.Now().Format(time.RFC1123))

	return sb.String()
}
