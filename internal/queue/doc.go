// Package queue provides a growable FIFO buffer shared by the stream outbox
// and the event journal.
//
// The buffer doubles its capacity at 70% fill and never drops items, so the
// outbox can grow for as long as the stream is disconnected.
package queue
