// Package sink contains the sink.Sink implementations: an in-memory sink that
// keeps notifications in delivery order, a Redis stream sink that appends
// each notification with XADD, and an email sink that mails each one through
// an SMTP relay.
package sink
