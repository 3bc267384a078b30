// Package schedule owns the lifecycle of schedule entries.
//
// A Manager creates, edits and destroys entries, keeping each entry's display
// message in its channel consistent with the persisted record. Background
// lanes (see Manager.Start) fire announcements exactly once per trigger per
// occurrence, advance recurring entries, and keep countdowns on display
// messages fresh.
//
// The store is the source of truth. Every pass re-reads records instead of
// caching them, so command handlers and lanes may interleave freely; the only
// multi-step sequence that needs mutual exclusion (remove the record, then
// delete its message) runs under Manager.ScheduleLock.
package schedule
