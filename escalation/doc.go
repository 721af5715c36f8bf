// Package escalation decides when an agent action needs a human approver and
// raises the approval request.
//
// A Policy combines three checks, first match wins: tools that always need
// approval, enabled but non-autonomous skills, and the agent's consecutive
// failure count reaching a threshold. Failure counters live in a
// CounterStore; the in-memory store scopes them to the policy instance while
// the Redis store shares them across processes.
package escalation
