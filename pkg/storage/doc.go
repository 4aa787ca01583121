// Package storage persists leased resources and their expiry state.
//
// The Store interface is the single source of truth for which provider
// resources the manager owns. GormStore backs it with Postgres in
// production and SQLite in tests, sharing one code path.
package storage
