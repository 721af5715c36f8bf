// Package model defines the provider-agnostic abstractions and concrete
// helpers for talking to language model providers inside lexmesh.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single Client interface
//   - Normalize tool call representation (ToolDefinition, ToolCall, ToolResult)
//   - Always report latency and input/output token counts
//   - Classify provider failures into a small closed set of kinds (ProviderError)
//   - Fall back once to a lighter model on rate-limit or overload (FallbackClient)
//   - Facilitate lightweight mocking for tests (MockClient)
//
// Providers (Anthropic, OpenAI) implement Client in sub-packages. A Router
// dispatches "provider:model" identifiers to the matching implementation.
package model
