// Package tools is a registry of functions the realtime model may call.
//
// Each tool is a typed Go function. The JSON Schema of its parameters is
// reflected from the argument type, so the definition sent in session.update
// cannot drift from the code that decodes the call:
//
//	type weatherArgs struct {
//		City string `json:"city" jsonschema:"description=City name"`
//	}
//	tools.Register(r, "get_weather", "Current weather for a city.",
//		func(ctx context.Context, a weatherArgs) (any, error) { ... })
//
// [Registry.Call] decodes the model's JSON arguments into the argument type,
// runs the function and encodes its result as JSON.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

var (
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tools: tool already registered")

	// ErrUnknownTool is returned by Call for an unregistered name.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrBadArguments wraps argument decoding failures.
	ErrBadArguments = errors.New("tools: bad arguments")
)

type tool struct {
	def  events.Tool
	call func(ctx context.Context, args []byte) (any, error)
}

// Registry holds tools by name. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool)}
}

// Register adds fn as tool name. The parameter schema is reflected from A,
// which should be a struct with json tags.
func Register[A any](r *Registry, name, description string, fn func(ctx context.Context, args A) (any, error)) error {
	params, err := schemaFor[A]()
	if err != nil {
		return fmt.Errorf("tools: schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = tool{
		def: events.Tool{
			Type:        "function",
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		call: func(ctx context.Context, raw []byte) (any, error) {
			var a A
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &a); err != nil {
					return nil, fmt.Errorf("%w: %s: %w", ErrBadArguments, name, err)
				}
			}
			return fn(ctx, a)
		},
	}
	return nil
}

// schemaFor reflects the JSON Schema of A as a generic map suitable for the
// tool definition.
func schemaFor[A any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.ReflectFromType(reflect.TypeFor[A]())
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// Definitions returns the tool definitions sorted by name.
func (r *Registry) Definitions() []events.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]events.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.def)
	}
	slices.SortFunc(out, func(a, b events.Tool) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Call runs tool name with JSON arguments args and returns its JSON-encoded
// result. A string result is encoded as a JSON string.
func (r *Registry) Call(ctx context.Context, name, args string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	res, err := t.call(ctx, []byte(args))
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("tools: encode %s result: %w", name, err)
	}
	return string(data), nil
}
