// Package telemetry publishes live cluster state into the manifest store:
// per-connection link statistics (Network_Telemetry, one blob per process)
// and the entity → owner authority table (Entity_Authority) that dashboards
// use to render ownership.
package telemetry
