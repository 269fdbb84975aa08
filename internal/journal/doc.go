// Package journal records every stream event to PostgreSQL.
//
// Events are buffered in memory and written in batches with pgx.Batch, either
// when a batch fills up or on each flush tick. The table is append-only:
//
//	stream_events(id, event_id, kind, payload jsonb, received_at)
package journal
