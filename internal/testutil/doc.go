// Package testutil contains fluent builders used across tests to reduce
// boilerplate when constructing agents, skills and thread messages. They are
// not intended for production usage.
package testutil
