/*
Package ports defines the driven ports (interfaces) of the stepflow controller.

These interfaces decouple the wizard logic from external implementations, so the same
controller runs against a PostgREST backend, an in-memory fake, Redis or process memory.

# Key Interfaces

  - Caller: the single call-by-name RPC capability injected into every controller.
  - StateStore: keeps snapshots of live flow instances for hosts serving many of them.
  - DistributedLocker: extends per-instance locking across host replicas.
  - FlowSource: resolves flow definitions by name.
*/
package ports
