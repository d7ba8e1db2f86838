// Package jobs owns the authoritative job table of the generation queue.
//
// Store holds every job record behind a single mutex together with the FIFO
// PendingQueue that feeds the worker. Status changes go through the named
// transitions in transitions.go; anything outside that graph is reported as
// a false result rather than an error. Every mutation writes a full snapshot
// through the configured Persister and publishes an events.Event.
//
// Read views (ListPaginated, ListGroupedByDate, ListDeleted) operate on
// point-in-time copies and never touch the pending queue.
package jobs
