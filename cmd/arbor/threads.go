package main

import (
	"github.com/aretw0/arbor/internal/cli"
	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:     "threads",
	Aliases: []string{"thread"},
	Short:   "Manage stored threads",
}

var threadsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			return cli.ListThreads(cmd.Context(), rt.Engine, cmd.OutOrStdout())
		})
	},
}

var threadsInspectCmd = &cobra.Command{
	Use:   "inspect <thread>",
	Short: "Print the latest checkpoint of a thread as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			return cli.InspectThread(cmd.Context(), rt.Engine, args[0], cmd.OutOrStdout())
		})
	},
}

var threadsHistoryCmd = &cobra.Command{
	Use:   "history <thread>",
	Short: "List every checkpoint of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			return cli.ThreadHistory(cmd.Context(), rt.Engine, args[0], cmd.OutOrStdout())
		})
	},
}

var threadsRmCmd = &cobra.Command{
	Use:   "rm <thread>",
	Short: "Delete a thread and its checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			return cli.DeleteThread(cmd.Context(), rt.Engine, args[0], cmd.OutOrStdout())
		})
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the workflow as a Mermaid diagram",
	Long:  `Outputs a Mermaid diagram (graph TD) of the workflow. With --thread, the nodes the thread visited are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, _ := cmd.Flags().GetString("thread")
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			return cli.PrintGraph(cmd.Context(), rt.Engine, threadID, cmd.OutOrStdout())
		})
	},
}

func init() {
	threadsCmd.AddCommand(threadsLsCmd, threadsInspectCmd, threadsHistoryCmd, threadsRmCmd)
	graphCmd.Flags().String("thread", "", "Highlight the progress of this thread")
	rootCmd.AddCommand(threadsCmd, graphCmd)
}
