package main

import (
	"os"

	"github.com/aretw0/arbor/internal/cli"
	"github.com/aretw0/arbor/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Arbor runs checkpointed analysis conversations over your documents",
	Long: `Arbor mines a directory for knowledge, asks you questions until it understands the
problem, and writes a report. Every step is checkpointed: a thread can be stopped at any
question and resumed later, from another process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.Fatal(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./arbor.yaml when present)")
	rootCmd.PersistentFlags().Bool("debug", false, "Log node events to stderr")
	rootCmd.PersistentFlags().String("memory", "", "Knowledge memory file")
	rootCmd.PersistentFlags().String("checkpointer", "", "Checkpoint backend: memory, file, redis, sqlite or postgres")
	rootCmd.PersistentFlags().String("model", "", "Language model name")
}

// loadConfig reads the config file and environment, then applies command line flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("memory") {
		cfg.Memory.Path, _ = cmd.Flags().GetString("memory")
	}
	if cmd.Flags().Changed("checkpointer") {
		cfg.Checkpoint.Backend, _ = cmd.Flags().GetString("checkpointer")
	}
	if cmd.Flags().Changed("model") {
		cfg.LLM.Model, _ = cmd.Flags().GetString("model")
	}
	return cfg, cfg.Validate()
}

// openRuntime builds the engine for a command. Callers must Close it.
func openRuntime(cmd *cobra.Command) (*cli.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	debug, _ := cmd.Flags().GetBool("debug")
	return cli.NewRuntime(cfg, debug)
}

// withRuntime runs fn against a runtime and closes it, reporting the first error.
func withRuntime(cmd *cobra.Command, fn func(rt *cli.Runtime) error) (err error) {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}
