package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/modeltree/internal/config"
	"github.com/signalsfoundry/modeltree/internal/logging"
)

// app carries what PersistentPreRunE resolved for the subcommands.
type app struct {
	configPath string
	logLevel   string
	steps      int

	cfg config.Config
	log logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{steps: -1}

	root := &cobra.Command{
		Use:           "modeltree",
		Short:         "Build, edit and run simulation model trees",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML or TOML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newTreeCmd(a),
		newImportCmd(a),
		newKindsCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.steps >= 0 {
		cfg.Simulation.Steps = a.steps
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.Logging()
	logCfg.Writer = cmd.ErrOrStderr()
	a.cfg = cfg
	a.log = logging.New(logCfg)
	return nil
}
