// Package oplog maintains the agent's in-process audit trail.
//
// It offers Buffer, a bounded thread-safe ring of timestamped operation
// records, and CommandEventRecorder, an execshell observer that turns command
// lifecycle events into records. The buffer is the only operation history the
// agent keeps; nothing is persisted across restarts.
package oplog
