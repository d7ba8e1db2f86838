// Package daemon owns the lifetime of one sdqueue instance.
//
// A Daemon takes the single-instance lock on the state directory, opens the
// SQLite job table, restores the job store (recovering interrupted jobs),
// purges expired recycle bin entries and starts the worker. It also exposes
// the submission and administration operations the CLI uses. Open without
// Start gives the CLI exclusive offline access for mutations; OpenReadOnly
// gives it a snapshot while another process holds the lock.
package daemon
