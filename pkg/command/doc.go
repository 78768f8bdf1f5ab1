// Package command carries server → client commands across the proxy tier.
// Commands queue per client and flush in batches; each packet is routed to
// the proxy the routing manifest records for its client.
package command
