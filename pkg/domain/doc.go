/*
Package domain contains the core domain models of the stepflow wizard controller.

It defines the entities a flow is made of (Steps), the runtime snapshot of one traversal
(State), the lifecycle events emitted while navigating, and the error kinds returned by
the controller. The package is kept pure and free of I/O so it can be shared by every
host (CLI, HTTP, MCP) and every adapter (memory, Redis, PostgREST).

# Key Entities

  - Step: one named screen of a flow, with its requirement and skip rules.
  - State: the snapshot of a traversal (current step, answers, visit history, status).
  - Visit: one entry of the append-only history log.
  - StateDiff: the changes between two snapshots, for partial updates on clients.
  - ValidationError, TransitionError, RemoteError: the three error kinds.
*/
package domain
