package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/youssefsiam38/ragpg/model"
)

// Registry manages tools and converts them to the provider-neutral
// definitions the model layer sends to completion APIs.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	// Validate schema
	schema := tool.InputSchema()
	if schema.Type != "object" {
		return fmt.Errorf("tool %s: schema type must be 'object', got %s", name, schema.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// RegisterAll adds multiple tools to the registry
func (r *Registry) RegisterAll(tools []Tool) error {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	return tool, exists
}

// Has checks if a tool is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ToModelTools converts all registered tools to model tool definitions,
// sorted by name so requests are deterministic.
func (r *Registry) ToModelTools() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, convertToolToDefinition(r.tools[name]))
	}
	return defs
}

// convertToolToDefinition converts a single tool to the neutral format.
func convertToolToDefinition(tool Tool) model.ToolDefinition {
	schema := tool.InputSchema()

	properties := make(map[string]any)
	for propName, propDef := range schema.Properties {
		properties[propName] = convertPropertyDef(propDef)
	}

	inputSchema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(schema.Required) > 0 {
		inputSchema["required"] = schema.Required
	}

	return model.ToolDefinition{
		Name:        tool.Name(),
		Description: tool.Description(),
		InputSchema: inputSchema,
	}
}

// convertPropertyDef converts a property definition to a JSON schema map.
func convertPropertyDef(def PropertyDef) map[string]any {
	prop := map[string]any{
		"type": def.Type,
	}

	if def.Description != "" {
		prop["description"] = def.Description
	}

	if len(def.Enum) > 0 {
		prop["enum"] = def.Enum
	}

	if def.Minimum != nil {
		prop["minimum"] = *def.Minimum
	}

	if def.Maximum != nil {
		prop["maximum"] = *def.Maximum
	}

	// Handle array items
	if def.Items != nil {
		prop["items"] = convertPropertyDef(*def.Items)
	}

	// Handle nested object properties
	if len(def.Properties) > 0 {
		nestedProps := make(map[string]any)
		for key, nestedDef := range def.Properties {
			nestedProps[key] = convertPropertyDef(nestedDef)
		}
		prop["properties"] = nestedProps
	}

	return prop
}

// Execute executes a tool by name
func (r *Registry) Execute(ctx context.Context, toolName string, input json.RawMessage) (string, error) {
	tool, exists := r.Get(toolName)
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrNotFound, toolName)
	}

	return tool.Execute(ctx, input)
}
