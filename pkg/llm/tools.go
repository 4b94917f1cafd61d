package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolSet holds registered tool definitions. Registration validates that
// each input schema is itself a loadable JSON Schema, so a malformed tool
// fails fast instead of poisoning every model call that carries it.
type ToolSet struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
}

// NewToolSet creates an empty tool set.
func NewToolSet() *ToolSet {
	return &ToolSet{
		tools: make(map[string]ToolDefinition),
	}
}

// Register adds a tool definition after validating its input schema.
func (ts *ToolSet) Register(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	schema := def.InputSchema
	if schema == nil {
		schema = map[string]interface{}{"type": "object"}
		def.InputSchema = schema
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
		return fmt.Errorf("tool %q has invalid input schema: %w", def.Name, err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	ts.tools[def.Name] = def

	return nil
}

// ValidateArguments checks a tool call's arguments against the registered
// schema for the named tool.
func (ts *ToolSet) ValidateArguments(name string, args map[string]interface{}) error {
	ts.mu.RLock()
	def, exists := ts.tools[name]
	ts.mu.RUnlock()

	if !exists {
		return fmt.Errorf("tool %q not registered", name)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(def.InputSchema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("failed to validate arguments for %q: %w", name, err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid arguments for %q: %s", name, result.Errors()[0].String())
	}

	return nil
}

// Names returns the registered tool names, sorted.
func (ts *ToolSet) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	names := make([]string, 0, len(ts.tools))
	for name := range ts.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the registered tool definitions, sorted by name.
func (ts *ToolSet) Definitions() []ToolDefinition {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(ts.tools))
	for _, def := range ts.tools {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
