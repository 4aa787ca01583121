// Package types holds the shared data model: persisted records for leased
// instances and clusters, the cluster status machine, and small helpers for
// names, pricing, and ownership display.
package types
