package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/bus"
	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/engine"
	"github.com/lexmesh/lexmesh/internal/testutil"
	"github.com/lexmesh/lexmesh/model"
	"github.com/lexmesh/lexmesh/store/memory"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendMessage(ctx context.Context, env bus.Envelope) (*core.Result, error) {
	args := m.Called(ctx, env)

	res, _ := args.Get(0).(*core.Result)

	return res, args.Error(1)
}

func toRole(role core.Role) any {
	return mock.MatchedBy(func(env bus.Envelope) bool { return env.ToRole == role })
}

var twoStep = Workflow{
	Key:  "two_step",
	Name: "Two step",
	Steps: []Step{
		{Role: core.RoleIntake, Instruction: "first"},
		{Role: core.RoleBilling, Instruction: "second"},
	},
}

func newExecutor(t *testing.T, s Sender) *Executor {
	t.Helper()

	e, err := New(s, func(o *Options) { o.Workflows = []Workflow{twoStep} })
	require.NoError(t, err)

	return e
}

func TestBuiltin(t *testing.T) {
	ws := Builtin()

	keys := make([]string, len(ws))
	for i, w := range ws {
		keys[i] = w.Key
		require.NoError(t, w.Validate())
	}

	assert.Equal(t, []string{"client_intake", "invoice_followup", "court_filing_prep"}, keys)
	assert.Equal(t, []core.Role{core.RoleBilling, core.RoleAssistant}, ws[1].Roles())
}

func TestLoad(t *testing.T) {
	ws, err := Load(strings.NewReader(`
workflows:
  - key: conflict_check
    name: Conflict check
    steps:
      - role: compliance
        instruction: Run a conflict check for the new client.
`))
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, core.RoleCompliance, ws[0].Steps[0].Role)
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown role":   "workflows:\n  - key: x\n    steps:\n      - role: janitor\n        instruction: sweep\n",
		"no steps":       "workflows:\n  - key: x\n",
		"unknown field":  "workflows:\n  - key: x\n    stepz: []\n",
		"missing key":    "workflows:\n  - steps:\n      - role: intake\n        instruction: hi\n",
		"duplicate":      "workflows:\n  - key: x\n    steps:\n      - {role: intake, instruction: a}\n  - key: x\n    steps:\n      - {role: intake, instruction: b}\n",
		"no instruction": "workflows:\n  - key: x\n    steps:\n      - role: intake\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestRun_UnknownWorkflow(t *testing.T) {
	e := newExecutor(t, &mockSender{})

	_, err := e.Run(context.Background(), "org-1", "nope", nil, "")
	require.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestRun_StopsOnFailedStep(t *testing.T) {
	s := &mockSender{}
	s.On("SendMessage", mock.Anything, toRole(core.RoleIntake)).
		Return(&core.Result{Kind: core.ResultFailed, Message: "provider down"}, nil).Once()

	results, err := newExecutor(t, s).Run(context.Background(), "org-1", "two_step", nil, "hello")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.ResultFailed, results[0].Kind)

	s.AssertNumberOfCalls(t, "SendMessage", 1)
}

func TestRun_StopsOnEscalationAndDepth(t *testing.T) {
	for _, kind := range []core.ResultKind{core.ResultEscalated, core.ResultDepthExceeded} {
		t.Run(string(kind), func(t *testing.T) {
			s := &mockSender{}
			s.On("SendMessage", mock.Anything, toRole(core.RoleIntake)).Return(&core.Result{Kind: kind}, nil).Once()

			results, err := newExecutor(t, s).Run(context.Background(), "org-1", "two_step", nil, "")
			require.NoError(t, err)
			assert.Len(t, results, 1)
		})
	}
}

func TestRun_ErrorResultContinues(t *testing.T) {
	s := &mockSender{}
	s.On("SendMessage", mock.Anything, toRole(core.RoleIntake)).
		Return(&core.Result{Kind: core.ResultError, Message: "No active agent is configured for the role intake."}, nil).Once()
	s.On("SendMessage", mock.Anything, toRole(core.RoleBilling)).
		Return(&core.Result{Kind: core.ResultCompleted, Output: "done"}, nil).Once()

	results, err := newExecutor(t, s).Run(context.Background(), "org-1", "two_step", nil, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, core.ResultError, results[0].Kind)
	assert.Equal(t, core.ResultCompleted, results[1].Kind)
}

func TestRun_PipesExcerptOfPreviousOutput(t *testing.T) {
	long := strings.Repeat("x", 5000)

	s := &mockSender{}
	s.On("SendMessage", mock.Anything, toRole(core.RoleIntake)).
		Return(&core.Result{Kind: core.ResultCompleted, Output: long}, nil).Once()

	var second bus.Envelope

	s.On("SendMessage", mock.Anything, toRole(core.RoleBilling)).
		Run(func(args mock.Arguments) { second = args.Get(1).(bus.Envelope) }).
		Return(&core.Result{Kind: core.ResultCompleted, Output: "ok"}, nil).Once()

	results, err := newExecutor(t, s).Run(context.Background(), "org-1", "two_step", map[string]string{"client": "ACME"}, "Invoice ACME")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "org-1", second.TenantID)
	assert.Len(t, second.Context["previous_output"], DefaultExcerptChars)
	assert.Equal(t, "ACME", second.Context["client"])
	assert.Equal(t, "Invoice ACME", second.Context["request"])
	assert.Equal(t, "2/2", second.Context["workflow_step"])
	assert.Empty(t, second.ThreadID)
	assert.True(t, strings.HasPrefix(second.Message, "second"))
	assert.Contains(t, second.Message, "Original request: Invoice ACME")
}

func TestRun_StoreFailureIsReturned(t *testing.T) {
	s := &mockSender{}
	s.On("SendMessage", mock.Anything, toRole(core.RoleIntake)).Return(nil, errors.New("db closed")).Once()

	results, err := newExecutor(t, s).Run(context.Background(), "org-1", "two_step", nil, "")
	require.Error(t, err)
	assert.Empty(t, results)
}

func TestList(t *testing.T) {
	e := newExecutor(t, &mockSender{})

	var keys []string
	for _, w := range e.List() {
		keys = append(keys, w.Key)
	}

	assert.Equal(t, []string{"client_intake", "court_filing_prep", "invoice_followup", "two_step"}, keys)
}

func TestRun_ClientIntakeEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	for _, role := range []core.Role{core.RoleIntake, core.RoleAssociate, core.RoleManagingPartner} {
		require.NoError(t, st.SaveAgent(ctx, testutil.NewAgentBuilder("org-1", role).Build()))
	}

	models := model.NewMockClient(
		model.Text("Lead L-1 recorded: tenancy dispute.", 5, 5),
		model.Text("Good prospects; need the lease.", 5, 5),
		model.Text("Accept the matter.", 5, 5),
	)

	e, err := New(bus.New(engine.New(st, models), st))
	require.NoError(t, err)

	results, err := e.Run(ctx, "org-1", "client_intake", nil, "My landlord kept my deposit.")
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, r := range results {
		assert.Equal(t, core.ResultCompleted, r.Kind)
	}

	assert.NotEqual(t, results[0].ThreadID, results[1].ThreadID)

	reqs := models.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[1].System, "- previous_output: Lead L-1 recorded: tenancy dispute.")

	task, err := st.GetTask(ctx, "org-1", results[2].TaskID)
	require.NoError(t, err)
	assert.Equal(t, "workflow:client_intake", task.TaskType)
	assert.Equal(t, core.TriggerAgentRequest, task.Trigger)
}
