// Package dashboard keeps the latest view of the backend's cognitive state,
// fed from relay topics, and serves it over HTTP.
package dashboard
