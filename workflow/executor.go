package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lexmesh/lexmesh/bus"
	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/logging"
)

// DefaultExcerptChars bounds the previous output handed to the next step.
const DefaultExcerptChars = 2000

// Sender delivers one step. *bus.Bus implements it.
type Sender interface {
	SendMessage(ctx context.Context, env bus.Envelope) (*core.Result, error)
}

// StepResult summarizes one executed step.
type StepResult struct {
	Step     int             `json:"step"`
	Role     core.Role       `json:"role"`
	Kind     core.ResultKind `json:"kind"`
	Message  string          `json:"message"`
	Output   string          `json:"output,omitempty"`
	AgentID  string          `json:"agent_id,omitempty"`
	TaskID   string          `json:"task_id,omitempty"`
	ThreadID string          `json:"thread_id,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Options configures an Executor.
type Options struct {
	// Workflows are registered in addition to the builtin ones and replace
	// builtins with the same key.
	Workflows    []Workflow
	ExcerptChars int
	Logger       *logging.RuntimeLogger
}

// Executor runs registered workflows.
type Executor struct {
	sender    Sender
	mu        sync.RWMutex
	workflows map[string]Workflow
	opts      Options
	logger    *logging.RuntimeLogger
}

// New creates an Executor with the builtin workflows registered.
func New(sender Sender, optFns ...func(o *Options)) (*Executor, error) {
	opts := Options{ExcerptChars: DefaultExcerptChars}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ExcerptChars <= 0 {
		opts.ExcerptChars = DefaultExcerptChars
	}

	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}

	e := &Executor{
		sender:    sender,
		workflows: map[string]Workflow{},
		opts:      opts,
		logger:    opts.Logger.WithComponent("workflow"),
	}

	for _, w := range append(Builtin(), opts.Workflows...) {
		if err := e.Register(w); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Register adds or replaces a workflow.
func (e *Executor) Register(w Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.workflows[w.Key] = w

	return nil
}

// Get returns the workflow registered under key.
func (e *Executor) Get(key string) (Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	w, ok := e.workflows[key]

	return w, ok
}

// List returns every registered workflow sorted by key.
func (e *Executor) List() []Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Workflow, 0, len(e.workflows))
	for _, w := range e.workflows {
		out = append(out, w)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}

// Run executes the workflow's steps in order for the tenant. Every step
// starts a fresh thread; its context carries vars, the original request and
// an excerpt of the previous step's output. The chain stops after a result
// whose kind halts it, so an error result for a missing role lets it go on.
// The returned slice holds one entry per executed step. Errors are returned
// for unknown workflows and store failures.
func (e *Executor) Run(ctx context.Context, tenantID, key string, vars map[string]string, message string) ([]StepResult, error) {
	w, ok := e.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, key)
	}

	log := e.logger.WithContext("tenant_id", tenantID).WithContext("workflow", w.Key)
	log.Info("workflow.start", "steps", len(w.Steps))

	results := make([]StepResult, 0, len(w.Steps))

	var previous string

	for i, step := range w.Steps {
		n := i + 1

		stepCtx := make(map[string]string, len(vars)+4)
		for k, v := range vars {
			stepCtx[k] = v
		}

		stepCtx["workflow"] = w.Key
		stepCtx["workflow_step"] = strconv.Itoa(n) + "/" + strconv.Itoa(len(w.Steps))

		if message != "" {
			stepCtx["request"] = message
		}

		if previous != "" {
			stepCtx["previous_output"] = core.Truncate(previous, e.opts.ExcerptChars)
		}

		start := time.Now()

		res, err := e.sender.SendMessage(ctx, bus.Envelope{
			TenantID: tenantID,
			ToRole:   step.Role,
			Message:  stepInput(step, message),
			Context:  stepCtx,
			TaskType: "workflow:" + w.Key,
		})
		if err != nil {
			return results, fmt.Errorf("workflow %s step %d (%s): %w", w.Key, n, step.Role, err)
		}

		dur := time.Since(start)

		results = append(results, StepResult{
			Step:     n,
			Role:     step.Role,
			Kind:     res.Kind,
			Message:  res.Message,
			Output:   res.Output,
			AgentID:  res.AgentID,
			TaskID:   res.TaskID,
			ThreadID: res.ThreadID,
			Duration: dur,
		})

		log.LogWorkflowStep(w.Key, n, string(step.Role), string(res.Kind), dur)

		if res.Kind.Halts() {
			log.Warn("workflow.halted", "step", n, "result_kind", string(res.Kind))
			break
		}

		previous = res.Output
		if previous == "" {
			previous = res.Message
		}
	}

	return results, nil
}

func stepInput(step Step, message string) string {
	if message == "" {
		return step.Instruction
	}

	return step.Instruction + "\n\nOriginal request: " + message
}
