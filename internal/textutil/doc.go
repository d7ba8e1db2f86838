// Package textutil cleans user and URL supplied text before it reaches the
// filesystem.
package textutil
