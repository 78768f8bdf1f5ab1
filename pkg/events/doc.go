// Package events provides a buffered fan-out broker for shard lifecycle
// events: bound claims, transfer progress, adoptions, connection reaping.
// Subscribers receive on buffered channels; a full subscriber is skipped
// rather than blocking the runtime.
package events
