// Package deploy coordinates repository mutations and application restarts.
//
// Coordinator serializes fetch, checkout, pull, and branch deletions against
// the managed working tree behind a mutual-exclusion lock, optionally runs the
// configured restart command after successful checkouts and pulls, and records
// every outcome in the operational log.
package deploy
