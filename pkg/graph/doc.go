/*
Package graph defines workflow graphs: typed state channels, nodes and the edges between them.

A graph is assembled with a Builder and frozen by Compile, which validates every reference up
front. The resulting CompiledGraph is immutable and safe for concurrent use; it is executed by
the runner package.

	b := graph.NewBuilder()
	b.AddChannel("input", graph.Replace, nil)
	b.AddNode("greet", greet)
	b.SetEntryPoint("greet")
	b.AddEdge("greet", graph.END)
	g, err := b.Compile()

# Channels

Every state key is a channel with a reducer deciding how a node update is merged:

  - Replace: the update overwrites the current value.
  - Append: sequences are concatenated.
  - UnionLatest: objects are shallow-merged, the update wins on conflicts.

# Nodes

A node returns a Result: Continue(update) to merge the update and follow its outgoing edge, or
Suspend(payload, update) to park the thread until a resume value arrives.
*/
package graph
