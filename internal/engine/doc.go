// Package engine runs credential consolidation for one origin at a time.
//
// A run is six sequential stages:
//  1. Read: qualifying origin records (source.Reader)
//  2. Map: project onto the credential shape (mapping.MapAll)
//  3. Plan: one conditional upsert per record (upsert.Plan)
//  4. Write: unordered batch against the target (Writer)
//  5. Resolve: delete duplicate credentials per user ID (Resolver)
//  6. Validate: compare expected and actual entitled identities (Validator)
//
// CRITICAL PATTERNS:
//
// Convergence:
// Every write is an idempotent, commutative upsert. A run interrupted at any
// stage is restarted from scratch; no checkpoint is kept.
//
// Fatal vs per-op failures:
// Errors wrapping credential.ErrUnavailable abort the run before the
// resolver. Per-op write failures are collected in the Report and the run
// continues.
//
// Deterministic resolution:
// Duplicate groups arrive in creation order; the canonical member is the
// first one carrying entitlements, otherwise the first one.
package engine
