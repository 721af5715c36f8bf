package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a task status change violates the state machine.
var ErrInvalidTransition = errors.New("invalid task status transition")

// TaskStatus is the closed set of task states.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskEscalated TaskStatus = "escalated"
)

// Terminal reports whether no further ordinary transition is allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskEscalated
}

// ParseTaskStatus converts a stored string into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(s); st {
	case TaskRunning, TaskCompleted, TaskFailed, TaskEscalated:
		return st, nil
	}

	return "", fmt.Errorf("unknown task status %q", s)
}

// TriggerType records who started a task.
type TriggerType string

const (
	TriggerManual       TriggerType = "manual"
	TriggerScheduled    TriggerType = "scheduled"
	TriggerAgentRequest TriggerType = "agent_request"
)

// ParseTriggerType converts a stored string into a TriggerType.
func ParseTriggerType(s string) (TriggerType, error) {
	switch t := TriggerType(s); t {
	case TriggerManual, TriggerScheduled, TriggerAgentRequest:
		return t, nil
	}

	return "", fmt.Errorf("unknown trigger type %q", s)
}

// allowedTransitions encodes the task state machine. failed -> escalated is the
// only move out of a terminal state and happens when repeated failures cross
// the escalation threshold.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskRunning: {TaskCompleted, TaskEscalated, TaskFailed},
	TaskFailed:  {TaskEscalated},
}

// Task is one execution record of the runtime. It is created when the runtime
// begins, mutated only by that runtime and never deleted.
type Task struct {
	ID               string      `json:"id"`
	TenantID         string      `json:"tenant_id"`
	AgentID          string      `json:"agent_id"`
	ThreadID         string      `json:"thread_id"`
	TaskType         string      `json:"task_type"`
	Trigger          TriggerType `json:"trigger"`
	Status           TaskStatus  `json:"status"`
	Input            string      `json:"input"`
	Output           string      `json:"output,omitempty"`
	Error            string      `json:"error,omitempty"`
	EscalationReason string      `json:"escalation_reason,omitempty"`
	NotificationID   string      `json:"notification_id,omitempty"`
	InputTokens      int64       `json:"input_tokens"`
	OutputTokens     int64       `json:"output_tokens"`
	StartedAt        time.Time   `json:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// Transition moves the task to status to, stamping CompletedAt on the first
// terminal state.
func (t *Task) Transition(to TaskStatus) error {
	for _, next := range allowedTransitions[t.Status] {
		if next == to {
			t.Status = to
			if t.CompletedAt == nil {
				now := time.Now().UTC()
				t.CompletedAt = &now
			}

			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
}
