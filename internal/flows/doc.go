// Package flows holds the engine's operations as plain functions over
// dependency structs: RunIssue, RunRefresh, RunLogout, RunRevokeAll, and the
// read-only RunStats, RunSweep and RunHealth.
//
// A flow reports what happened as a FailureKind plus the underlying error.
// Translating that into public sentinels, counters and audit events is the
// engine's job, so a flow never logs or counts on its own.
//
// Flows keep no state between calls and must not import goRotate.
package flows
