// Package notifications pushes finished-job notices to ntfy.
//
// NtfyPublisher is an events.Publisher: the daemon wraps it in an
// events.Forwarder so slow or unreachable ntfy servers never hold up the
// store. Only completions and failures are sent; every other event is
// accepted and ignored.
package notifications
