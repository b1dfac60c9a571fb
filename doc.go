/*
Package arbor is a checkpointed workflow engine for analysis conversations backed by a knowledge memory.

A workflow is a graph of nodes over typed state channels. Each node returns a state update and
either continues or suspends the thread with a question for a human. Every step is written to a
checkpoint saver (memory, file, Redis, SQLite or PostgreSQL), so a suspended thread can be resumed
by another process, and a crashed run replays from its last durable checkpoint.

# Concept

The engine runs three flows on one graph:

  - analyze: mines a directory for entities and relationships, then asks questions until the
    human ends the conversation with a termination phrase, and writes a report.
  - build_context: the same loop, producing a context document.
  - echo: returns its input; useful to check a checkpoint backend without a model.

Knowledge found by any thread lands in a shared memory of entities and relationships, which is
persisted to a JSON file and travels with each thread's state.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/arbor"
		"github.com/aretw0/arbor/pkg/adapters/file"
		"github.com/aretw0/arbor/pkg/adapters/ollama"
	)

	func main() {
		eng, err := arbor.New(
			arbor.WithSaver(file.New(".arbor/threads")),
			arbor.WithModel(ollama.New()),
			arbor.WithMemoryFile("memory.json", false),
		)
		if err != nil {
			log.Fatal(err)
		}
		defer eng.Flush()

		ctx := context.Background()
		res, err := eng.Start(ctx, arbor.StartRequest{SourceDir: "./docs"})
		if err != nil {
			log.Fatal(err)
		}
		for res.Suspended() {
			fmt.Println(res.Question)
			// In a real app, this answer comes from the human.
			res, err = eng.Resume(ctx, res.ThreadID, "done")
			if err != nil {
				log.Fatal(err)
			}
		}
		fmt.Println(res.State.String("output"))
	}
*/
package arbor
