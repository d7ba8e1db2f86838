// Package logs reads the daemon's JSON log file for the CLI. Records decode
// into Entry values and can be narrowed to a single job, so a job's history
// can be followed without the daemon being reachable.
package logs
