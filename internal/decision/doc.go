// Package decision turns status detections into relationship transitions
// or review proposals, and owns the proposal lifecycle.
//
// A detection at or above the auto-apply threshold is applied at once
// with changedBy SYSTEM_AUTO. A detection at or above the proposal
// threshold becomes a PENDING proposal that a person accepts or rejects,
// or that the expiry sweep retires. Anything lower is dropped.
//
//	PENDING ──accept──▶ ACCEPTED   (applies the transition)
//	   │ ────reject──▶ REJECTED
//	   └────sweep───▶ EXPIRED
//
// Every proposal update is conditional on the proposal still being
// PENDING, so the sweep and human review commute.
package decision
