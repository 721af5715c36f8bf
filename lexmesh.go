// Package lexmesh wires the agent execution runtime of a legal-practice
// platform: the engine, the escalation policy, the practice tool catalogue,
// the agent bus, the workflow executor and the scheduler.
//
// Most applications either call New with their own store and model client or
// Open with a loaded config.Config. Every unset collaborator defaults to an
// in-memory implementation, which is safe for local development and tests.
package lexmesh

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexmesh/lexmesh/bus"
	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/engine"
	"github.com/lexmesh/lexmesh/escalation"
	"github.com/lexmesh/lexmesh/logging"
	"github.com/lexmesh/lexmesh/model"
	"github.com/lexmesh/lexmesh/practice"
	"github.com/lexmesh/lexmesh/scheduler"
	"github.com/lexmesh/lexmesh/store/memory"
	"github.com/lexmesh/lexmesh/tool"
	"github.com/lexmesh/lexmesh/workflow"
)

// Options configures a Mesh.
type Options struct {
	EngineConfig engine.Config

	// Store defaults to an in-memory store.
	Store core.Store

	// Models defaults to a router without providers, so every call fails
	// with an auth_misconfigured provider error.
	Models model.Client

	// Backoffice backs the practice tools. Defaults to an empty in-memory
	// backoffice.
	Backoffice practice.Backoffice

	// Counters keeps consecutive failure counts. Defaults to process memory.
	Counters        escalation.CounterStore
	Threshold       int
	DefaultApprover string

	// Tools are registered after the practice catalogue.
	Tools []tool.Tool

	// Workflows are registered next to the built-in ones.
	Workflows []workflow.Workflow
	Jobs      []scheduler.Job

	Hooks  *engine.Hooks
	Logger *logging.RuntimeLogger

	// OnScheduledResult observes every scheduled run.
	OnScheduledResult func(job scheduler.Job, res *core.Result, err error)
}

// Mesh aggregates the runtime components. The fields are exposed for callers
// that need the lower-level APIs.
type Mesh struct {
	Store      core.Store
	Backoffice practice.Backoffice
	Tools      *tool.Registry
	Policy     *escalation.Policy
	Runtime    *engine.Runtime
	Bus        *bus.Bus
	Workflows  *workflow.Executor
	Scheduler  *scheduler.Scheduler

	logger  *logging.RuntimeLogger
	closers []func() error
}

// New builds a Mesh from the options.
func New(optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{
		EngineConfig:    engine.DefaultConfig,
		Threshold:       escalation.DefaultThreshold,
		DefaultApprover: "admin",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}

	if opts.Store == nil {
		opts.Store = memory.New()
	}

	if opts.Models == nil {
		opts.Models = model.NewRouter("anthropic")
	}

	if opts.Backoffice == nil {
		opts.Backoffice = practice.NewMemoryBackoffice()
	}

	if opts.Counters == nil {
		opts.Counters = escalation.NewMemoryCounters()
	}

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = opts.Logger.WithComponent("tool") })

	// A failing module is logged and skipped; the others stay usable.
	_ = registry.RegisterModules(practice.Modules(opts.Backoffice, opts.Store)...)

	if err := registry.Register(opts.Tools...); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	policy := escalation.New(opts.Store, opts.Store, opts.Store, func(o *escalation.Options) {
		o.Threshold = opts.Threshold
		o.DefaultApprover = opts.DefaultApprover
		o.Counters = opts.Counters
		o.Logger = opts.Logger.WithComponent("escalation")
	})

	rt := engine.New(opts.Store, opts.Models, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Tools = registry
		o.Policy = policy
		o.Hooks = opts.Hooks
		o.Logger = opts.Logger
	})

	b := bus.New(rt, opts.Store, func(o *bus.Options) { o.Logger = opts.Logger.WithComponent("bus") })

	wf, err := workflow.New(b, func(o *workflow.Options) {
		o.Workflows = opts.Workflows
		o.Logger = opts.Logger.WithComponent("workflow")
	})
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(rt, opts.Store, func(o *scheduler.Options) {
		o.Logger = opts.Logger.WithComponent("scheduler")
		o.OnResult = opts.OnScheduledResult
	})

	for _, job := range opts.Jobs {
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}

	return &Mesh{
		Store:      opts.Store,
		Backoffice: opts.Backoffice,
		Tools:      registry,
		Policy:     policy,
		Runtime:    rt,
		Bus:        b,
		Workflows:  wf,
		Scheduler:  sched,
		logger:     opts.Logger,
	}, nil
}

// Execute runs one agent request. See engine.Runtime.Execute.
func (m *Mesh) Execute(ctx context.Context, req engine.ExecuteRequest) (*core.Result, error) {
	return m.Runtime.Execute(ctx, req)
}

// Run loads the agent and executes input as a manual request. An empty
// threadID starts a new thread.
func (m *Mesh) Run(ctx context.Context, tenantID, agentID, threadID, input string) (*core.Result, error) {
	agent, err := m.Store.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}

	return m.Runtime.Execute(ctx, engine.ExecuteRequest{
		Agent:    agent,
		Input:    input,
		ThreadID: threadID,
		Trigger:  core.TriggerManual,
	})
}

// SendMessage delivers an envelope through the agent bus.
func (m *Mesh) SendMessage(ctx context.Context, env bus.Envelope) (*core.Result, error) {
	return m.Bus.SendMessage(ctx, env)
}

// Broadcast sends message to every other active agent of the tenant.
func (m *Mesh) Broadcast(ctx context.Context, tenantID, fromAgentID, message string, excludeRoles ...core.Role) ([]bus.Delivery, error) {
	return m.Bus.Broadcast(ctx, tenantID, fromAgentID, message, excludeRoles...)
}

// RunWorkflow executes a registered workflow.
func (m *Mesh) RunWorkflow(ctx context.Context, tenantID, key string, vars map[string]string, message string) ([]workflow.StepResult, error) {
	return m.Workflows.Run(ctx, tenantID, key, vars, message)
}

// Close releases the resources opened by Open.
func (m *Mesh) Close() error {
	var errs []error

	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	m.closers = nil

	return errors.Join(errs...)
}
