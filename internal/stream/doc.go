// Package stream implements the connection manager for the backend event stream.
//
// The Manager:
//   - Keeps at most one WebSocket link to the configured endpoint
//   - Decodes inbound frames and dispatches them to listeners in arrival order
//   - Queues outbound messages while disconnected and flushes them FIFO on connect
//   - Reconnects with capped exponential backoff and gives up after a bounded
//     number of attempts
package stream
