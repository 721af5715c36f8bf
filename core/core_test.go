package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Paralegal ")
	require.NoError(t, err)
	assert.Equal(t, RoleParalegal, r)

	_, err = ParseRole("janitor")
	assert.Error(t, err)
}

func TestAgent_SkillLookup(t *testing.T) {
	a := &Agent{Skills: []Skill{
		{Key: "drafting", Enabled: true},
		{Key: "billing", Enabled: false},
		{Key: "intake", Enabled: true, Autonomous: true},
	}}

	s, ok := a.Skill("billing")
	require.True(t, ok)
	assert.False(t, s.Enabled)

	_, ok = a.Skill("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"drafting", "intake"}, a.EnabledSkills())
}

func TestAgent_CloneIsDeep(t *testing.T) {
	a := &Agent{ID: "a1", Skills: []Skill{{Key: "drafting"}}}
	c := a.Clone()
	c.Skills[0].Key = "changed"

	assert.Equal(t, "drafting", a.Skills[0].Key)
}

func TestTask_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		wantErr bool
	}{
		{"running to completed", TaskRunning, TaskCompleted, false},
		{"running to escalated", TaskRunning, TaskEscalated, false},
		{"running to failed", TaskRunning, TaskFailed, false},
		{"failed to escalated", TaskFailed, TaskEscalated, false},
		{"completed is terminal", TaskCompleted, TaskFailed, true},
		{"escalated is terminal", TaskEscalated, TaskCompleted, true},
		{"failed cannot complete", TaskFailed, TaskCompleted, true},
		{"running cannot restart", TaskRunning, TaskRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Status: tt.from}
			err := task.Transition(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, task.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, task.Status)
			assert.NotNil(t, task.CompletedAt)
		})
	}
}

func TestTask_FailedThenEscalatedKeepsCompletionTime(t *testing.T) {
	task := &Task{Status: TaskRunning}
	require.NoError(t, task.Transition(TaskFailed))
	first := *task.CompletedAt

	require.NoError(t, task.Transition(TaskEscalated))
	assert.Equal(t, first, *task.CompletedAt)
}

func TestParseEnums(t *testing.T) {
	st, err := ParseTaskStatus("escalated")
	require.NoError(t, err)
	assert.True(t, st.Terminal())
	assert.False(t, TaskRunning.Terminal())

	_, err = ParseTaskStatus("paused")
	assert.Error(t, err)

	tr, err := ParseTriggerType("agent_request")
	require.NoError(t, err)
	assert.Equal(t, TriggerAgentRequest, tr)

	_, err = ParseTriggerType("webhook")
	assert.Error(t, err)
}

func TestResultKind_Halts(t *testing.T) {
	assert.True(t, ResultFailed.Halts())
	assert.True(t, ResultEscalated.Halts())
	assert.True(t, ResultDepthExceeded.Halts())
	assert.False(t, ResultCompleted.Halts())
	assert.False(t, ResultError.Halts())
	assert.False(t, ResultTimeout.Halts())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "äö", Truncate("äöü", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
