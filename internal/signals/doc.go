// Package signals implements deterministic status detection for vendor
// conversations.
//
// A table of status definitions lists, per lifecycle stage, the phrases a
// vendor (inbound) or the planner (outbound) typically writes at that stage.
// The matcher scans a message for those phrases on word boundaries, vetoes a
// definition when one of its exclusion phrases appears, and picks one winner.
//
// Definitions are served from a Cache that loads once from a Source and is
// only refreshed by an explicit Invalidate. A Watcher can invalidate the
// cache when a file-backed definition table changes on disk.
package signals
