// Package models contains the GORM persistence models of the treasury tables.
// Domain types stay free of ORM tags; each model converts to and from its
// domain counterpart with ToDomain and a ...FromDomain constructor.
//
//   - base.go: shared key, timestamp and version columns
//   - treasury.go: accounts, movements, transfers, statements, invoices
//   - idempotency.go: command deduplication records
package models
