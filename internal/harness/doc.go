// Package harness runs convergence scenarios against a real engine and store.
//
// A scenario seeds a target dataset with credentials written by other
// parties, loads origin source records, and then interleaves engine runs,
// webhook inserts and resolver passes. Assertions check the final target
// state. Every scenario executes in a fresh SQLite database with a fixed
// clock and sequential refs, so its outcome is reproducible byte for byte.
//
// # Scenario Format
//
//	name: guardian_rerun_converges
//	description: "Re-running the guardian origin changes nothing"
//	merge_entitlements: true    # optional, defaults to true
//	seed:
//	  - user_id: P7
//	    app_ids: []
//	sources:
//	  guardian:
//	    - {parentId: P7, firstNameFather: Ada, password: pw}
//	steps:
//	  - run: guardian
//	  - webhook: {user_id: T1, password: pw, url: "https://x", title: Teacher}
//	  - dedupe: true
//	assertions:
//	  - {type: credential_count, user_id: P7, count: 1}
//	  - {type: entitlements, user_id: P7, app_ids: [ParentApp]}
//	  - {type: no_duplicates}
//	  - {type: total_count, count: 2}
//	  - {type: can_login, user_id: P7, password: pw, app_id: ParentApp}
//	  - {type: field, user_id: P7, field: firstName, value: Ada}
//
// # Assertion Types
//
//   - credential_count: number of credentials sharing user_id
//   - entitlements: the oldest credential for user_id holds exactly app_ids (any order)
//   - no_duplicates: no user_id appears on more than one credential
//   - total_count: number of credentials in the target
//   - can_login: password and app_id authenticate (or, with allowed: false, do not)
//   - field: an attribute of the oldest credential for user_id; omit value to expect null
//
// # Golden Files
//
// RunWithGolden compares a canonical snapshot of step outcomes and the final
// target state against testdata/golden/<name>.golden. Refs and timestamps are
// left out of the snapshot. Regenerate with:
//
//	go test ./internal/harness -update
package harness
