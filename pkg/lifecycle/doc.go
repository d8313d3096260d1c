// Package lifecycle provides the content lifecycle engine shared by every CMS
// content kind: immutable version history, a single-reviewer approval
// workflow, and publication state management.
//
// It exposes a single Service interface that orchestrates publish, unpublish,
// schedule, approval and rollback operations. Every mutating operation runs in
// one repository transaction and lifecycle events are fanned out to
// subscribers only after that transaction commits. Repository implementations
// (memory, Postgres) are provided under subpackages.
//
// Content items are referenced polymorphically by (Kind, ID). The engine
// never constructs or deletes items; it changes Status and PublishedAt through
// its own operations and restores snapshot fields on rollback.
package lifecycle
