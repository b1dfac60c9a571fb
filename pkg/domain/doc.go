/*
Package domain contains the core data model shared by the arbor engine, its runner and its adapters.

It is kept free of I/O and persistence so every other package can depend on it.

# Key Entities

  - State: the channel values of a thread (channel name -> value).
  - Checkpoint: an immutable snapshot of a thread taken after every node.
  - RunResult: what a Start or Resume call reports back (Suspended or Completed).
  - Entity, Relationship, Snapshot: the knowledge memory model.
  - LifecycleHooks: callbacks the runner fires while executing a thread.
*/
package domain
