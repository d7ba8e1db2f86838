// Package events carries job lifecycle notifications from the store and the
// worker to whoever is listening.
//
// Producers depend only on the Sink interface. Hub keeps a bounded,
// sequence-numbered ring that consumers long-poll with Fetch. Forwarder turns
// a Publisher (Redis pub/sub, an AMQP fanout exchange or the ntfy notifier)
// into a non-blocking Sink so a slow broker never stalls job administration.
package events
