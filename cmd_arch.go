package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ===========================================================================
// ARCH CLI - Reading and writing architecture files
// ===========================================================================
//
// An architecture file is a YAML list with one item per entry:
//
//   - [7, 64, 2, 3]                      # filter: kernel, channels, stride, padding
//   - M                                  # 2x2 max pool, stride 2
//   - [[1, 256, 1, 0], [3, 512, 1, 1], 4] # repeat group
//
// "arch dump" writes the active architecture (the darknet default unless
// --arch is given) so it can be edited and loaded back. "arch check" parses
// a file and runs the compiler plan over it without allocating weights.
//
// USAGE:
//   yolo arch dump darknet.yaml
//   yolo arch check tiny.yaml
//
// ===========================================================================

func newArchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arch",
		Short: "Dump or check architecture YAML files",
	}
	cmd.AddCommand(newArchDumpCmd(c), newArchCheckCmd(c))
	return cmd
}

func newArchDumpCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "dump [file]",
		Short: "Write the active architecture as YAML (stdout when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, arch, err := c.loadModel()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				if err := WriteArchitecture(arch, args[0]); err != nil {
					return fmt.Errorf("write architecture: %w", err)
				}
				c.logger.Info("architecture written", zap.String("path", args[0]), zap.Int("entries", len(arch)))
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries to %s\n", len(arch), args[0])
				return nil
			}

			data, err := yaml.Marshal(arch)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newArchCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Parse an architecture file and plan its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := c.loadModel()
			if err != nil {
				return err
			}
			arch, err := LoadArchitecture(args[0])
			if err != nil {
				return err
			}
			specs, final, err := Plan(arch, cfg.InChannels)
			if err != nil {
				return err
			}

			filters := 0
			for _, s := range specs {
				if s.Kind == StageFilter {
					filters++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, %d stages (%d conv, %d pool), %d -> %d channels\n",
				args[0], len(arch), len(specs), filters, len(specs)-filters, cfg.InChannels, final)
			return nil
		},
	}
}
