package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/core"
)

type lookupArgs struct {
	MatterID string `json:"matter_id" description:"Matter identifier"`
	Verbose  bool   `json:"verbose,omitempty"`
}

func echoTool(name, skill string) *FunctionTool {
	return NewFunctionTool(Definition{
		Name:        name,
		Description: "echo " + name,
		Skill:       skill,
	}, func(_ context.Context, tenantID string, args map[string]any) (any, error) {
		return map[string]any{"tenant": tenantID, "args": args}, nil
	})
}

func TestFunctionTool_FromStruct(t *testing.T) {
	ft := NewFunctionToolFromStruct(Definition{Name: "lookup_matter"}, lookupArgs{}, func(_ context.Context, _ string, args map[string]any) (any, error) {
		return args["matter_id"], nil
	})

	def := ft.Describe()
	props, ok := def.Schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "matter_id")
	assert.Contains(t, props, "verbose")
	assert.Equal(t, []string{"matter_id"}, def.Schema["required"])
}

func TestFunctionTool_WrapsPlainErrors(t *testing.T) {
	ft := NewFunctionTool(Definition{Name: "boom"}, func(context.Context, string, map[string]any) (any, error) {
		return nil, errors.New("db down")
	})

	_, err := ft.Invoke(context.Background(), "org-1", nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeExecution, te.Code)
	assert.Equal(t, "db down", te.Message)
}

func TestFunctionTool_ForwardsToolError(t *testing.T) {
	custom := NewToolError("x", "not allowed", "FORBIDDEN")
	ft := NewFunctionTool(Definition{Name: "x"}, func(context.Context, string, map[string]any) (any, error) {
		return nil, custom
	})

	_, err := ft.Invoke(context.Background(), "org-1", nil)
	assert.Same(t, custom, err)
	assert.Equal(t, "tool error [FORBIDDEN] in x: not allowed", err.Error())
}

func TestRegistry_ResolveForAgent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(
		echoTool("always_visible", ""),
		echoTool("draft_email", "drafting"),
		echoTool("create_invoice", "billing"),
		echoTool("create_lead", "intake"),
	))

	agent := &core.Agent{Skills: []core.Skill{
		{Key: "drafting", Enabled: true},
		{Key: "billing", Enabled: false},
		{Key: "intake", Enabled: true, Autonomous: true},
	}}

	names := func(ds []Descriptor) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = d.Name
		}
		return out
	}

	got := r.ResolveForAgent(agent)
	assert.Equal(t, []string{"always_visible", "create_lead", "draft_email"}, names(got))

	// Same agent state, same tool set.
	assert.Equal(t, names(got), names(r.ResolveForAgent(agent)))

	noSkills := r.ResolveForAgent(&core.Agent{})
	assert.Equal(t, []string{"always_visible"}, names(noSkills))
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("a", "")))
	require.NoError(t, r.Register(echoTool("a", "")))

	assert.Equal(t, []string{"a"}, r.Names())
}

func TestRegistry_RegisterRejectsBadSchema(t *testing.T) {
	r := NewRegistry()
	bad := NewFunctionTool(Definition{Name: "bad", Schema: map[string]any{"type": 42}}, nil)

	err := r.Register(echoTool("good", ""), bad)
	require.Error(t, err)
	assert.Empty(t, r.Names())
}

func TestRegistry_RegisterModulesSkipsFailingModule(t *testing.T) {
	r := NewRegistry()

	err := r.RegisterModules(
		Module{Name: "intake", Load: func() ([]Tool, error) { return []Tool{echoTool("create_lead", "intake")}, nil }},
		Module{Name: "scraper", Load: func() ([]Tool, error) { return nil, errors.New("missing credentials") }},
		Module{Name: "billing", Load: func() ([]Tool, error) { return []Tool{echoTool("list_open_invoices", "billing")}, nil }},
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scraper")
	assert.Equal(t, []string{"create_lead", "list_open_invoices"}, r.Names())
}

func TestDescriptor_CallValidatesArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewFunctionToolFromStruct(Definition{Name: "lookup_matter"}, lookupArgs{},
		func(_ context.Context, tenantID string, args map[string]any) (any, error) {
			return tenantID + ":" + args["matter_id"].(string), nil
		})))

	d, ok := r.Lookup("lookup_matter")
	require.True(t, ok)

	res, err := d.Call(context.Background(), "org-1", json.RawMessage(`{"matter_id":"M-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "org-1:M-1", res)

	tests := []struct {
		name string
		raw  string
	}{
		{"missing required", `{}`},
		{"wrong type", `{"matter_id": 5}`},
		{"not json", `{"matter_id":`},
		{"not an object", `["M-1"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Call(context.Background(), "org-1", json.RawMessage(tt.raw))
			var te *ToolError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, CodeValidation, te.Code)
		})
	}
}

func TestDescriptor_CallRecoversPanics(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewFunctionTool(Definition{Name: "panicky"}, func(context.Context, string, map[string]any) (any, error) {
		panic("nil map")
	})))

	d, _ := r.Lookup("panicky")

	_, err := d.Call(context.Background(), "org-1", nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodePanic, te.Code)
}

func TestModelDefinitions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("a", "")))

	defs := ModelDefinitions(r.ResolveForAgent(&core.Agent{}))
	require.Len(t, defs, 1)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "echo a", defs[0].Description)
	assert.Equal(t, "object", defs[0].Parameters["type"])
}
