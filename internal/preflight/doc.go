// Package preflight provides readiness checks for the filesystem paths and
// external tools sdqueue depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll once at startup and logs every failed check.
//     Failures never block startup; affected jobs fail at dispatch instead.
//   - The CLI prints the same results in "sdqueue status" and
//     "sdqueue config validate".
//
// Each check is gated by its config setting; unset features are skipped.
package preflight
