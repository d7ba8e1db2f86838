// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships
// the matching client used by the CLI.
//
// Submissions and administrative commands go through the running daemon so
// they serialize with the worker; read views remain available to the CLI
// without the daemon through a read-only store snapshot.
package ipc
