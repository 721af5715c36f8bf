package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/engine"
	"github.com/lexmesh/lexmesh/internal/testutil"
	"github.com/lexmesh/lexmesh/model"
	"github.com/lexmesh/lexmesh/store/memory"
)

func dailyReview() Job {
	return Job{
		Name:     "daily-invoice-review",
		Schedule: "0 8 * * 1-5",
		TenantID: "org-1",
		Role:     core.RoleBilling,
		Prompt:   "Review overdue invoices and report anything older than 30 days.",
		Context:  map[string]string{"period": "30d"},
	}
}

func TestLoadJobs(t *testing.T) {
	jobs, err := LoadJobs(strings.NewReader(`
jobs:
  - name: weekly-intake-digest
    schedule: "@weekly"
    tenant: org-1
    role: intake
    prompt: Summarize new leads of the past week.
    context:
      audience: partners
`))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, core.RoleIntake, jobs[0].Role)
	assert.Equal(t, "partners", jobs[0].Context["audience"])
}

func TestJob_Validate(t *testing.T) {
	tests := map[string]func(j *Job){
		"missing name":   func(j *Job) { j.Name = "" },
		"missing tenant": func(j *Job) { j.TenantID = "" },
		"bad role":       func(j *Job) { j.Role = "janitor" },
		"empty prompt":   func(j *Job) { j.Prompt = " " },
		"bad schedule":   func(j *Job) { j.Schedule = "every tuesday" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			j := dailyReview()
			mutate(&j)
			require.Error(t, j.Validate())
		})
	}

	require.NoError(t, dailyReview().Validate())
}

func TestScheduler_AddAndNext(t *testing.T) {
	s := New(nil, memory.New())
	require.NoError(t, s.Add(dailyReview()))
	require.Error(t, s.Add(dailyReview()))

	monday := time.Date(2026, time.October, 12, 9, 0, 0, 0, time.Local)

	next, ok := s.Next("daily-invoice-review", monday)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.October, 13, 8, 0, 0, 0, time.Local), next)

	_, ok = s.Next("unknown", monday)
	assert.False(t, ok)

	assert.Len(t, s.Jobs(), 1)
}

func TestScheduler_RunJobUsesScheduledTrigger(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.SaveAgent(ctx, testutil.NewAgentBuilder("org-1", core.RoleBilling).Build()))

	models := model.NewMockClient(model.Text("Two invoices are overdue.", 4, 6))
	s := New(engine.New(st, models), st)

	res, err := s.RunJob(ctx, dailyReview())
	require.NoError(t, err)
	assert.Equal(t, core.ResultCompleted, res.Kind)

	task, err := st.GetTask(ctx, "org-1", res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TriggerScheduled, task.Trigger)
	assert.Equal(t, "scheduled:daily-invoice-review", task.TaskType)

	reqs := models.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].System, "- period: 30d")
	assert.Contains(t, reqs[0].System, "- scheduled_job: daily-invoice-review")
}

func TestScheduler_RunJobWithoutAgent(t *testing.T) {
	s := New(nil, memory.New())

	_, err := s.RunJob(context.Background(), dailyReview())
	require.ErrorIs(t, err, core.ErrNotFound)
}

type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExecutor) Execute(context.Context, engine.ExecuteRequest) (*core.Result, error) {
	close(b.started)
	<-b.release

	return &core.Result{Kind: core.ResultCompleted}, nil
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.SaveAgent(ctx, testutil.NewAgentBuilder("org-1", core.RoleBilling).Build()))

	exec := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	s := New(exec, st)

	done := make(chan error, 1)

	go func() {
		_, err := s.RunJob(ctx, dailyReview())
		done <- err
	}()

	<-exec.started

	_, err := s.RunJob(ctx, dailyReview())
	require.ErrorIs(t, err, ErrJobRunning)

	close(exec.release)
	require.NoError(t, <-done)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := New(nil, memory.New())
	require.NoError(t, s.Add(dailyReview()))

	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
