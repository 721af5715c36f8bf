// Package bus routes messages between agents by role.
//
// The bus is a caller of the engine, not part of it. It bounds the depth of
// agent-to-agent threads so two agents can never ping-pong forever.
package bus

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/engine"
	"github.com/lexmesh/lexmesh/logging"
)

// DefaultMaxDepth is the thread length at which SendMessage refuses to
// continue a conversation.
const DefaultMaxDepth = 10

// Executor runs one agent turn. *engine.Runtime implements it.
type Executor interface {
	Execute(ctx context.Context, req engine.ExecuteRequest) (*core.Result, error)
}

// Directory is the store surface the bus reads.
type Directory interface {
	CountThread(ctx context.Context, tenantID, threadID string) (int, error)
	FindActiveByRole(ctx context.Context, tenantID string, role core.Role) (*core.Agent, error)
	ListActive(ctx context.Context, tenantID string) ([]core.Agent, error)
}

// Options configures a Bus.
type Options struct {
	// MaxDepth is the depth ceiling. Defaults to DefaultMaxDepth.
	MaxDepth int
	// Concurrency bounds parallel Broadcast deliveries. Defaults to 4.
	Concurrency int
	Logger      *logging.RuntimeLogger
}

// Bus delivers agent messages through an Executor.
type Bus struct {
	exec   Executor
	dir    Directory
	opts   Options
	logger *logging.RuntimeLogger
}

// New creates a Bus.
func New(exec Executor, dir Directory, optFns ...func(o *Options)) *Bus {
	opts := Options{MaxDepth: DefaultMaxDepth, Concurrency: 4}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}

	return &Bus{exec: exec, dir: dir, opts: opts, logger: opts.Logger.WithComponent("bus")}
}

// Envelope addresses a message to the active agent holding a role.
type Envelope struct {
	TenantID    string
	FromAgentID string
	ToRole      core.Role
	Message     string
	Context     map[string]string
	// ThreadID continues an existing agent conversation.
	ThreadID string
	TaskType string
	Language string
}

// SendMessage delivers the envelope. A thread at or above the depth ceiling
// yields a depth_exceeded result and no agent is contacted; a role without an
// active agent yields an error result. Errors are returned for store
// failures only.
func (b *Bus) SendMessage(ctx context.Context, env Envelope) (*core.Result, error) {
	log := b.logger.WithContext("tenant_id", env.TenantID).WithContext("to_role", string(env.ToRole))

	if env.ThreadID != "" {
		n, err := b.dir.CountThread(ctx, env.TenantID, env.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("count thread: %w", err)
		}

		if n >= b.opts.MaxDepth {
			log.Warn("bus.depth_exceeded", "thread_id", env.ThreadID, "messages", n, "max_depth", b.opts.MaxDepth)

			return &core.Result{
				Kind:     core.ResultDepthExceeded,
				Message:  text(env.Language, msgDepthExceeded, b.opts.MaxDepth),
				ThreadID: env.ThreadID,
			}, nil
		}
	}

	agent, err := b.dir.FindActiveByRole(ctx, env.TenantID, env.ToRole)
	if errors.Is(err, core.ErrNotFound) {
		log.Warn("bus.role_unavailable")

		return &core.Result{
			Kind:     core.ResultError,
			Message:  text(env.Language, msgRoleUnavailable, env.ToRole),
			ThreadID: env.ThreadID,
		}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("find agent for role %s: %w", env.ToRole, err)
	}

	log.Debug("bus.deliver", "agent_id", agent.ID, "from_agent_id", env.FromAgentID)

	return b.exec.Execute(ctx, engine.ExecuteRequest{
		Agent:         agent,
		Input:         env.Message,
		ThreadID:      env.ThreadID,
		Trigger:       core.TriggerAgentRequest,
		CallerAgentID: env.FromAgentID,
		Context:       env.Context,
		TaskType:      env.TaskType,
		Language:      env.Language,
	})
}

// Delivery is the outcome of one Broadcast recipient.
type Delivery struct {
	AgentID string
	Role    core.Role
	Result  *core.Result
	Err     error
}

// Broadcast sends message to every active agent of the tenant except the
// sender and the excluded roles. Each recipient gets a fresh thread.
// Deliveries run concurrently and are returned in recipient order; a failed
// delivery is reported in its Delivery and never aborts the others.
func (b *Bus) Broadcast(ctx context.Context, tenantID, fromAgentID, message string, excludeRoles ...core.Role) ([]Delivery, error) {
	agents, err := b.dir.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}

	excluded := make(map[core.Role]bool, len(excludeRoles))
	for _, r := range excludeRoles {
		excluded[r] = true
	}

	recipients := make([]core.Agent, 0, len(agents))
	for _, a := range agents {
		if a.ID == fromAgentID || excluded[a.Role] {
			continue
		}

		recipients = append(recipients, a)
	}

	deliveries := make([]Delivery, len(recipients))

	var g errgroup.Group

	g.SetLimit(b.opts.Concurrency)

	for i := range recipients {
		agent := &recipients[i]

		g.Go(func() error {
			res, err := b.exec.Execute(ctx, engine.ExecuteRequest{
				Agent:         agent,
				Input:         message,
				Trigger:       core.TriggerAgentRequest,
				CallerAgentID: fromAgentID,
				TaskType:      "broadcast",
			})

			deliveries[i] = Delivery{AgentID: agent.ID, Role: agent.Role, Result: res, Err: err}

			return nil
		})
	}

	_ = g.Wait()

	b.logger.Info("bus.broadcast", "tenant_id", tenantID, "from_agent_id", fromAgentID, "recipients", len(recipients))

	return deliveries, nil
}
