// Package workflow runs fixed chains of agent calls that form a business
// process. Each step is delivered through the agent bus and sees an excerpt
// of the previous step's output.
package workflow

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexmesh/lexmesh/core"
)

// ErrUnknownWorkflow is returned by Run for a key that is not registered.
var ErrUnknownWorkflow = errors.New("unknown workflow")

//go:embed builtin.yaml
var builtinYAML []byte

// Step is one agent invocation of a workflow.
type Step struct {
	Role        core.Role `yaml:"role"`
	Instruction string    `yaml:"instruction"`
}

// Workflow is a named, ordered list of steps.
type Workflow struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Validate checks that the workflow can be run.
func (w Workflow) Validate() error {
	if strings.TrimSpace(w.Key) == "" {
		return errors.New("workflow key is required")
	}

	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", w.Key)
	}

	for i, s := range w.Steps {
		if !s.Role.Valid() {
			return fmt.Errorf("workflow %s step %d: unknown role %q", w.Key, i+1, s.Role)
		}

		if strings.TrimSpace(s.Instruction) == "" {
			return fmt.Errorf("workflow %s step %d: instruction is required", w.Key, i+1)
		}
	}

	return nil
}

// Roles returns the role of every step in order.
func (w Workflow) Roles() []core.Role {
	roles := make([]core.Role, len(w.Steps))
	for i, s := range w.Steps {
		roles[i] = s.Role
	}

	return roles
}

type document struct {
	Workflows []Workflow `yaml:"workflows"`
}

// Load decodes and validates workflows from a YAML document with a top-level
// "workflows" list. Unknown fields are rejected.
func Load(r io.Reader) ([]Workflow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode workflows: %w", err)
	}

	seen := make(map[string]bool, len(doc.Workflows))

	for _, w := range doc.Workflows {
		if err := w.Validate(); err != nil {
			return nil, err
		}

		if seen[w.Key] {
			return nil, fmt.Errorf("duplicate workflow %s", w.Key)
		}

		seen[w.Key] = true
	}

	return doc.Workflows, nil
}

// LoadFile reads workflows from a YAML file.
func LoadFile(path string) ([]Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workflows: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Builtin returns the workflows shipped with LexMesh.
func Builtin() []Workflow {
	ws, err := Load(bytes.NewReader(builtinYAML))
	if err != nil {
		panic(fmt.Sprintf("workflow: invalid builtin workflows: %v", err))
	}

	return ws
}
