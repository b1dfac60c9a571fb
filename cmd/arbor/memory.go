package main

import (
	"fmt"

	"github.com/aretw0/arbor/internal/cli"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Query the knowledge memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			cli.ShowMemory(rt.Engine, cmd.OutOrStdout())
			return nil
		})
	},
}

var memoryEntityCmd = &cobra.Command{
	Use:   "entity <name>",
	Short: "Show an entity and its relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			return cli.ShowEntity(rt.Engine, args[0], cmd.OutOrStdout())
		})
	},
}

var memoryRelationsCmd = &cobra.Command{
	Use:   "relations",
	Short: "List relationships, filtered by --from, --to and --type",
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter knowledge.RelationFilter
		filter.From, _ = cmd.Flags().GetString("from")
		filter.To, _ = cmd.Flags().GetString("to")
		filter.Type, _ = cmd.Flags().GetString("type")
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			return cli.ShowRelations(rt.Engine, filter, cmd.OutOrStdout())
		})
	},
}

var memoryExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the memory as JSON (stdout when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			return cli.ExportMemory(rt.Engine, path, cmd.OutOrStdout())
		})
	},
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a memory file into the knowledge memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			rejected, err := cli.ImportMemory(rt.Engine, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%d relationships rejected).\n", args[0], rejected)
			return nil
		})
	},
}

func init() {
	memoryRelationsCmd.Flags().String("from", "", "Source entity")
	memoryRelationsCmd.Flags().String("to", "", "Target entity")
	memoryRelationsCmd.Flags().String("type", "", "Relationship type")
	memoryCmd.AddCommand(memoryEntityCmd, memoryRelationsCmd, memoryExportCmd, memoryImportCmd)
	rootCmd.AddCommand(memoryCmd)
}
