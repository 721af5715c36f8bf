// Package scheduler runs housekeeping prompts on a cron cadence. Each job
// addresses the active agent holding a role in one tenant and executes it
// with trigger type "scheduled".
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron"
	"gopkg.in/yaml.v3"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/engine"
	"github.com/lexmesh/lexmesh/logging"
)

// ErrJobRunning is returned by RunJob while an earlier run of the same job
// has not finished.
var ErrJobRunning = errors.New("scheduler: job is still running")

// Job is a scheduled prompt.
type Job struct {
	Name string `yaml:"name"`
	// Schedule is a standard five-field crontab expression or a descriptor
	// such as "@daily".
	Schedule string            `yaml:"schedule"`
	TenantID string            `yaml:"tenant"`
	Role     core.Role         `yaml:"role"`
	Prompt   string            `yaml:"prompt"`
	Context  map[string]string `yaml:"context,omitempty"`
}

// Validate checks the job's fields and schedule.
func (j Job) Validate() error {
	switch {
	case strings.TrimSpace(j.Name) == "":
		return errors.New("job name is required")
	case j.TenantID == "":
		return fmt.Errorf("job %s: tenant is required", j.Name)
	case !j.Role.Valid():
		return fmt.Errorf("job %s: unknown role %q", j.Name, j.Role)
	case strings.TrimSpace(j.Prompt) == "":
		return fmt.Errorf("job %s: prompt is required", j.Name)
	}

	if _, err := cron.ParseStandard(j.Schedule); err != nil {
		return fmt.Errorf("job %s: schedule %q: %w", j.Name, j.Schedule, err)
	}

	return nil
}

// LoadJobs decodes jobs from a YAML document with a top-level "jobs" list.
func LoadJobs(r io.Reader) ([]Job, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc struct {
		Jobs []Job `yaml:"jobs"`
	}

	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}

	for _, j := range doc.Jobs {
		if err := j.Validate(); err != nil {
			return nil, err
		}
	}

	return doc.Jobs, nil
}

// LoadJobsFile reads jobs from a YAML file.
func LoadJobsFile(path string) ([]Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jobs: %w", err)
	}
	defer f.Close()

	return LoadJobs(f)
}

// Executor runs one agent turn. *engine.Runtime implements it.
type Executor interface {
	Execute(ctx context.Context, req engine.ExecuteRequest) (*core.Result, error)
}

// Directory resolves the agent a job addresses.
type Directory interface {
	FindActiveByRole(ctx context.Context, tenantID string, role core.Role) (*core.Agent, error)
}

// Options configures a Scheduler.
type Options struct {
	Logger *logging.RuntimeLogger
	// OnResult observes every scheduled run.
	OnResult func(job Job, res *core.Result, err error)
}

// Scheduler fires jobs on their cron schedules. A job whose previous run is
// still in progress is skipped.
type Scheduler struct {
	exec   Executor
	dir    Directory
	cron   *cron.Cron
	opts   Options
	logger *logging.RuntimeLogger

	mu      sync.Mutex
	jobs    map[string]scheduled
	running map[string]bool
	ctx     context.Context
}

type scheduled struct {
	job      Job
	schedule cron.Schedule
}

// New creates a Scheduler.
func New(exec Executor, dir Directory, optFns ...func(o *Options)) *Scheduler {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}

	return &Scheduler{
		exec:    exec,
		dir:     dir,
		cron:    cron.New(),
		opts:    opts,
		logger:  opts.Logger.WithComponent("scheduler"),
		jobs:    map[string]scheduled{},
		running: map[string]bool{},
		ctx:     context.Background(),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	sched, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s is already registered", job.Name)
	}

	s.jobs[job.Name] = scheduled{job: job, schedule: sched}
	s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(job) }))

	s.logger.Info("scheduler.job.registered", "job", job.Name, "schedule", job.Schedule,
		"tenant_id", job.TenantID, "role", string(job.Role))

	return nil
}

// Jobs returns the registered jobs sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, sj := range s.jobs {
		out = append(out, sj.job)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Next returns the next activation of the named job after t.
func (s *Scheduler) Next(name string, t time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}

	return sj.schedule.Next(t), true
}

// Run starts the cron loop and blocks until ctx is cancelled. Jobs fired
// while running use ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("scheduler.started", "jobs", n)
	s.cron.Start()

	<-ctx.Done()

	s.cron.Stop()
	s.logger.Info("scheduler.stopped")

	return ctx.Err()
}

func (s *Scheduler) fire(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	res, err := s.RunJob(ctx, job)
	if s.opts.OnResult != nil {
		s.opts.OnResult(job, res, err)
	}
}

// RunJob executes the job once, immediately.
func (s *Scheduler) RunJob(ctx context.Context, job Job) (*core.Result, error) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		s.logger.Warn("scheduler.job.skipped", "job", job.Name, "reason", "still running")

		return nil, ErrJobRunning
	}

	s.running[job.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()
	}()

	log := s.logger.WithContext("job", job.Name).WithContext("tenant_id", job.TenantID)

	agent, err := s.dir.FindActiveByRole(ctx, job.TenantID, job.Role)
	if err != nil {
		log.Warn("scheduler.job.no_agent", "role", string(job.Role), "error", err.Error())
		return nil, fmt.Errorf("job %s: find agent for role %s: %w", job.Name, job.Role, err)
	}

	vars := make(map[string]string, len(job.Context)+1)
	for k, v := range job.Context {
		vars[k] = v
	}

	vars["scheduled_job"] = job.Name

	start := time.Now()

	res, err := s.exec.Execute(ctx, engine.ExecuteRequest{
		Agent:    agent,
		Input:    job.Prompt,
		Trigger:  core.TriggerScheduled,
		Context:  vars,
		TaskType: "scheduled:" + job.Name,
	})
	if err != nil {
		log.Error("scheduler.job.failed", "error", err.Error(), "duration", time.Since(start))
		return nil, err
	}

	log.Info("scheduler.job.done", "result_kind", string(res.Kind), "task_id", res.TaskID, "duration", time.Since(start))

	return res, nil
}
