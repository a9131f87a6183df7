package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/modeltree/internal/format"
	"github.com/signalsfoundry/modeltree/internal/logging"
	"github.com/signalsfoundry/modeltree/model"
	"github.com/signalsfoundry/modeltree/timectrl"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [model]",
		Short: "Run a simulation for a number of timesteps and print the final tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.cfg.Simulation.Model = args[0]
			}
			mode, _ := timectrl.ParseMode(a.cfg.Simulation.Mode)
			if a.cfg.Simulation.Steps <= 0 && mode == timectrl.Accelerated {
				return errors.New("an accelerated run needs --steps > 0")
			}

			s, err := buildSimulation(a.cfg, a.log, nil)
			if err != nil {
				return err
			}
			if err := s.Run(cmd.Context(), a.cfg.Simulation.Steps); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "completed %d steps at %s\n", s.Clock().Steps(), s.Clock().Now().Format("2006-01-02"))
			s.View(func(root *model.Node) {
				fmt.Fprint(out, format.Describe(root))
			})
			return nil
		},
	}
	cmd.Flags().IntVar(&a.steps, "steps", -1, "timesteps to run")
	return cmd
}

func newTreeCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "tree <model>",
		Short: "Print a model file as a tree, or re-encode it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := readModel(args[0])
			if err != nil {
				return err
			}
			return writeTree(cmd, root, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "import <legacy.xml>",
		Short: "Convert a legacy XML model into the native format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			root, err := format.ImportLegacy(string(data))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			a.log.Info(cmd.Context(), "imported legacy model",
				logging.Node(root),
				logging.Int("nodes", len(root.Descendants())+1),
			)
			return writeTree(cmd, root, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the registered model kinds and their default properties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, kind := range model.Kinds() {
				n, err := model.NewOfKind(kind, "")
				if err != nil {
					return err
				}
				line := kind
				if c, ok := n.Component.(model.Configurable); ok {
					props := c.Props()
					keys := slices.Sorted(maps.Keys(props))
					for _, k := range keys {
						line += fmt.Sprintf(" %s=%v", k, props[k])
					}
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func writeTree(cmd *cobra.Command, root *model.Node, output string) error {
	out := cmd.OutOrStdout()
	switch output {
	case "text":
		_, err := fmt.Fprint(out, format.Describe(root))
		return err
	case "json":
		data, err := format.Encode(root)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case "yaml":
		data, err := format.EncodeYAML(root)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
