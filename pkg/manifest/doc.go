/*
Package manifest abstracts the shared key-value state service that is the
source of truth for cluster-wide facts: which shard owns which bound, which
proxy fronts which client, live telemetry, and the transfer manifest
document.

Two implementations ship:

  - RedisStore: the production adapter over go-redis, endpoint taken from
    INTERNAL_REDIS_SERVICE_NAME / INTERNAL_REDIS_PORT, with backoff retry
    on connect. JSON-document operations map to the RedisJSON module.
  - MemoryStore: a complete in-process implementation with the same
    atomicity semantics (SetNX, SPop), used by tests and single-process
    runs. A multi-shard test shares one MemoryStore the way a cluster
    shares one redis endpoint.

The two cluster-level contention points — the pending-bounds set and the
connection lease keys — lean on SPop and SetNX respectively; both must be
atomic in any conforming implementation. Everything else in the store is
per-identity-keyed, single-writer state.
*/
package manifest
