package main

import (
	"github.com/aretw0/arbor/internal/cli"
	"github.com/aretw0/arbor/pkg/flows"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [dir]",
	Short: "Analyze a problem, optionally mining a directory first",
	Long: `Starts an analysis thread. When a directory is given, its documents are read and
the entities and relationships they mention are added to the knowledge memory before
the conversation begins. End the conversation with "solution approved", "done" or
"okay bye"; type "exit" to park the thread and resume it later.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlow(cmd, flows.FlowAnalyze, args)
	},
}

var contextCmd = &cobra.Command{
	Use:   "context [dir]",
	Short: "Build a context document through a guided conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlow(cmd, flows.FlowBuildContext, args)
	},
}

var echoCmd = &cobra.Command{
	Use:   "echo <text>",
	Short: "Run the echo flow (checks the checkpoint backend without a model)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = cmd.Flags().Set("input", args[0])
		return runFlow(cmd, flows.FlowEcho, nil)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <thread> [answer]",
	Short: "Answer the pending question of a parked thread",
	Long: `Resumes a suspended thread. With an answer, the answer is injected and the thread
runs to its next question. Without one, the pending question is asked again interactively.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		answer := ""
		if len(args) > 1 {
			answer = args[1]
		}
		opts := runOptions(cmd)
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			sigCtx := cli.NewSignalContext(cmd.Context())
			defer sigCtx.Cancel()
			err := cli.ResumeThread(sigCtx, rt.Engine, args[0], answer, opts)
			return cli.HandleExecutionError(cmd.OutOrStdout(), args[0], err, sigCtx.Signal())
		})
	},
}

func runOptions(cmd *cobra.Command) cli.RunOptions {
	headless, _ := cmd.Flags().GetBool("headless")
	jsonMode, _ := cmd.Flags().GetBool("json")
	return cli.RunOptions{
		Headless: headless,
		JSON:     jsonMode,
		Stdin:    cmd.InOrStdin(),
		Stdout:   cmd.OutOrStdout(),
	}
}

func runFlow(cmd *cobra.Command, flow string, args []string) error {
	opts := runOptions(cmd)
	opts.Flow = flow
	opts.ThreadID, _ = cmd.Flags().GetString("thread")
	opts.Input, _ = cmd.Flags().GetString("input")
	if len(args) > 0 {
		opts.SourceDir = args[0]
	}

	return withRuntime(cmd, func(rt *cli.Runtime) error {
		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()
		err := cli.RunFlow(sigCtx, rt.Engine, opts)
		return cli.HandleExecutionError(cmd.OutOrStdout(), opts.ThreadID, err, sigCtx.Signal())
	})
}

func init() {
	for _, cmd := range []*cobra.Command{analyzeCmd, contextCmd, echoCmd} {
		cmd.Flags().String("thread", "", "Thread ID (generated when omitted)")
		cmd.Flags().String("input", "", "First message")
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{analyzeCmd, contextCmd, echoCmd, resumeCmd} {
		cmd.Flags().Bool("headless", false, "Plain output: no banner, prompt or markdown rendering")
		cmd.Flags().Bool("json", false, "Print the run result as JSON and leave the thread parked")
	}
	rootCmd.AddCommand(resumeCmd)
}
