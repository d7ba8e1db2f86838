// Package main hosts the sdqueue CLI entrypoint and command graph.
//
// Commands that change jobs go through the running daemon's control socket
// when one is listening, and otherwise open the state directory directly
// under its lock. Read views load a read-only snapshot of the job table so
// they work either way.
package main
