// Package credential provides the shared vocabulary of the consolidation engine.
//
// This package contains type definitions and small pure helpers only. All other
// internal packages import credential; credential imports nothing internal.
//
// Key design constraints:
//   - UserID is the only identity; every other field is a mutable attribute
//   - Entitlements (AppIDs) only ever grow through the engine
//   - Source records are a closed set of origin-specific variants
//   - All JSON tags use snake_case; datastore field names keep the
//     camelCase names used by the live credential collection
package credential
