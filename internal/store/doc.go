// Package store is the document persistence layer behind the dispatcher.
//
// It deliberately exposes only what the external backing service offers:
// path-addressed documents, field merges, single-field equality queries, and
// collection-group queries. There is no OR across fields and no cross-document
// transaction; components that need "OR of four fields" (the work matcher)
// layer multiple queries, and the rate ledger accepts lost updates (see gate).
//
// Drivers: "memory" (tests/dev), "sqlite" (embedded file), "postgres" (pgx).
package store
