// Package metrics exposes the shard runtime's Prometheus collectors:
// ledger population, transfer stages and outcomes, bound claims, lease
// traffic, and manifest-store round trips. Register once at startup and
// mount Handler (or call Serve) to scrape.
package metrics
