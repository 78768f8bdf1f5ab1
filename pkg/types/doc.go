/*
Package types defines the data model shared across the AtlasNet runtime.

Core types:
  - NetworkIdentity: stable (role, uuid) identity of every process; its
    string form "<role> <uuid>" doubles as the bound claim key.
  - AtlasEntity / AtlasEntityMinimal: the ownership-indivisible unit of
    simulation and its metadata-free projection.
  - Transform, BoundsID, TransferID, ClientID: supporting handles.
  - EntityTransferStage: the handoff state machine stages.
  - ConnectionTelemetry: per-connection link statistics blob.

All wire-visible types serialize through pkg/codec.
*/
package types
