/*
Package registry layers the routing and identity tables on top of the
manifest store.

  - ServerRegistry: identity → reachable address; the transport acceptor
    verifies presented identities against it.
  - RoutingManifest: client → proxy and proxy → clients, kept consistent by
    updating both directions on every assignment.
  - ClientManifest: client → IP and client → controlled entity.
  - NodeManifest: shard → {nodeName, podName, podIp} pod bookkeeping.

All tables are plain CRUD over hashes and sets with codec-encoded keys;
each row has a single writer (the identity it describes).
*/
package registry
