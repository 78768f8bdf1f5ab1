/*
Package heuristic owns spatial authority: how world space is carved into
bounds, how bounds are published and claimed, and how positions map back to
the shard that owns them.

The Manifest keeps two tables in the manifest store: a pending set of
serialized bound shapes and a claimed hash of claim-key → shape. Claiming
is an atomic pop from pending followed by a claim-hash write; the atomic
pop is what guarantees that no two shards ever own the same bound. The
BoundLeaser runs the per-shard claim loop and verifies its claim
afterwards, dropping the local copy if the store ever reports a different
owner.

GridHeuristic is the canonical partitioner: a Cols×Rows grid of rectangular
GridBounds with row-major ids. Containment is half-open (closed on the
-axis edges, open on +axis) so a point on a shared edge belongs to exactly
one cell. Additional shapes plug in through RegisterBoundKind.
*/
package heuristic
