package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/logging"
	"github.com/lexmesh/lexmesh/model"
)

// Module is an optional group of tools loaded at startup. A failing loader
// never prevents other modules from registering.
type Module struct {
	Name string
	Load func() ([]Tool, error)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry is the process-wide tool catalogue: a typed map from tool name to
// capability plus its compiled argument schema.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  logging.Logger
}

type entry struct {
	tool   Tool
	def    Definition
	schema *jsonschema.Schema
}

// NewRegistry creates an empty Registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{entries: map[string]entry{}, logger: opts.Logger}
}

// Register adds tools to the catalogue. Registering a name again replaces the
// previous tool. Registration is all-or-nothing per call.
func (r *Registry) Register(tools ...Tool) error {
	compiled := make([]entry, 0, len(tools))

	for _, t := range tools {
		def := t.Describe()
		if def.Name == "" {
			return errors.New("tool: name is required")
		}

		schema, err := compileSchema(def)
		if err != nil {
			return fmt.Errorf("tool %q: %w", def.Name, err)
		}

		compiled = append(compiled, entry{tool: t, def: def, schema: schema})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range compiled {
		r.entries[e.def.Name] = e
	}

	return nil
}

// RegisterModules loads and registers every module, logging and collecting
// the failures of individual modules instead of aborting.
func (r *Registry) RegisterModules(modules ...Module) error {
	var errs []error

	for _, m := range modules {
		tools, err := m.Load()
		if err == nil {
			err = r.Register(tools...)
		}

		if err != nil {
			r.logger.Warn("tool.module.skipped", "module", m.Name, "error", err.Error())
			errs = append(errs, fmt.Errorf("module %s: %w", m.Name, err))

			continue
		}

		r.logger.Debug("tool.module.loaded", "module", m.Name, "tools", len(tools))
	}

	return errors.Join(errs...)
}

// Lookup returns the descriptor of a registered tool.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}

	return e.descriptor(), true
}

// Names returns every registered tool name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ResolveForAgent returns the tools visible to the agent: the tools owned by
// any of its enabled skills plus the tools without an owning skill, sorted
// by name.
func (r *Registry) ResolveForAgent(agent *core.Agent) []Descriptor {
	enabled := map[string]bool{}
	for _, key := range agent.EnabledSkills() {
		enabled[key] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.def.Skill == "" || enabled[e.def.Skill] {
			out = append(out, e.descriptor())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Descriptor is the resolved view of one tool for an agent.
type Descriptor struct {
	Definition
	tool   Tool
	schema *jsonschema.Schema
}

func (e entry) descriptor() Descriptor {
	return Descriptor{Definition: e.def, tool: e.tool, schema: e.schema}
}

// ModelDefinition returns the wire-format definition sent to providers.
func (d Descriptor) ModelDefinition() model.ToolDefinition {
	return model.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Schema}
}

// ModelDefinitions converts descriptors into provider tool definitions.
func ModelDefinitions(ds []Descriptor) []model.ToolDefinition {
	out := make([]model.ToolDefinition, len(ds))
	for i, d := range ds {
		out[i] = d.ModelDefinition()
	}

	return out
}

// Call parses and validates raw JSON arguments, then invokes the tool.
// Failures come back as *ToolError; a panicking handler is recovered.
func (d Descriptor) Call(ctx context.Context, tenantID string, raw json.RawMessage) (result any, err error) {
	args, err := d.parse(raw)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &ToolError{Tool: d.Name, Message: fmt.Sprintf("handler panic: %v", rec), Code: CodePanic}
		}
	}()

	result, err = d.tool.Invoke(ctx, tenantID, args)
	if err != nil {
		var toolErr *ToolError
		if !errors.As(err, &toolErr) {
			err = &ToolError{Tool: d.Name, Message: err.Error(), Code: CodeExecution}
		}

		return nil, err
	}

	return result, nil
}

func (d Descriptor) parse(raw json.RawMessage) (map[string]any, error) {
	var inst any
	if err := json.Unmarshal(model.RawJSON(raw), &inst); err != nil {
		return nil, &ToolError{Tool: d.Name, Message: fmt.Sprintf("arguments are not valid JSON: %v", err), Code: CodeValidation}
	}

	args, ok := inst.(map[string]any)
	if !ok {
		return nil, &ToolError{Tool: d.Name, Message: "arguments must be a JSON object", Code: CodeValidation}
	}

	if d.schema != nil {
		if err := d.schema.Validate(inst); err != nil {
			return nil, &ToolError{Tool: d.Name, Message: fmt.Sprintf("parameter validation failed: %v", err), Code: CodeValidation}
		}
	}

	return args, nil
}

// compileSchema normalizes the schema through JSON so Go literals such as
// []string behave like decoded documents, then compiles it.
func compileSchema(def Definition) (*jsonschema.Schema, error) {
	if len(def.Schema) == 0 {
		return nil, nil
	}

	b, err := json.Marshal(def.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := def.Name + ".json"

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return schema, nil
}
