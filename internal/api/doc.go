// Package api is the HTTP client for the dashboard backend.
//
// Endpoints:
//   - POST /api/query             submit a natural-language query
//   - POST /api/knowledge/import  bulk import knowledge items
//   - GET  /api/knowledge/search  search the knowledge store
//   - GET  /api/health            backend and component health
//
// Requests are retried with jittered exponential backoff on 5xx and 429 and
// run behind a circuit breaker. Search results are cached briefly.
package api
