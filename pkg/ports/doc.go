/*
Package ports defines the driven ports (interfaces) of the arbor engine.

These interfaces decouple the runner and the flows from external implementations, allowing
the engine to work with various checkpoint backends, language models and document sources.

# Key Interfaces

  - CheckpointSaver: persists the checkpoint history of every thread.
  - DistributedLocker: serializes access to a thread across replicas.
  - LanguageModel: completes a conversation.
  - Extractor: turns documents into entities and relationships.
  - DocumentSource: reads a directory into filename -> text.
*/
package ports
