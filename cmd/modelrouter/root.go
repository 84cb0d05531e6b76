package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app carries the settings and shared resources of one CLI invocation.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "modelrouter",
		Short:         "Route prompts to the best affordable model",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(a.v.GetString("log-level"), a.v.GetString("log-file"))
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	f := root.PersistentFlags()
	f.StringP("config", "c", "modelrouter.yaml", "path to config file (.yaml or .toml)")
	f.String("ledger", "memory", "ledger store: memory, sqlite:<path> or redis://<addr>/<db>")
	f.Float64("budget", 0, "override the configured budget total in USD")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("log-file", "", "write JSON logs to this file with rotation instead of stderr")
	f.Duration("timeout", 0, "override the per-call provider timeout")
	f.String("tokenizer", "heuristic", "prompt token counter: heuristic or tiktoken")
	f.Float64("rate-limit", 0, "max requests per second to each provider (0 = unlimited)")
	f.StringToString("base-url", nil, "override a provider base URL, e.g. ollama=http://gpu-box:11434/v1")
	f.String("gonka-endpoint", "", "Gonka node URL; enables the gonka provider")
	f.String("gonka-node-address", "", "bech32 address of the Gonka node")

	_ = a.v.BindPFlags(f)
	a.v.SetEnvPrefix("MODELROUTER")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newRouteCmd(a),
		newBudgetCmd(a),
		newCatalogCmd(a),
	)
	return root
}
