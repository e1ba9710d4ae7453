// Package calendar derives the calendar page's views from task
// collection snapshots.
//
// Everything here is a pure function over a snapshot: grouping tasks by
// the local calendar day they were created on, and tallying per-day
// completion for the day badges. No function mutates its input or talks
// to the store.
package calendar
