// Package core provides the foundational domain types and interfaces of the
// lexmesh agent runtime. It defines:
//
//   - Agents and Skills (tenant-scoped, role-bound personas and their capability grants)
//   - Conversation Messages (immutable, append-only thread entries)
//   - Tasks (one record per runtime invocation with a closed status state machine)
//   - Results (the value every runtime, bus and workflow call returns)
//   - Escalation records (notification + audit pair)
//   - Store interfaces for conversations, tasks, agents, approvers, notifications and audit
//
// Persistence and orchestration live elsewhere (store/*, engine, bus, workflow);
// this package only exposes small interfaces so backends can be swapped. Every
// record carries a TenantID and every store lookup is tenant-scoped.
package core
