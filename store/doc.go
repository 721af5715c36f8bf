// Package store holds the persistence backends of the runtime. Each
// sub-package implements core.Store: memory for tests and demos, sqlite for
// single-node deployments and postgres for shared deployments.
package store
