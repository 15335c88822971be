package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"
)

// ===========================================================================
// BENCHMARK CLI - Timing forward passes
// ===========================================================================
//
// USAGE:
//   yolo benchmark --batch 1 --batch 4 --iterations 3
//   yolo benchmark --workers 4 --output bench.json
//
// ===========================================================================

func newBenchmarkCmd(c *cli) *cobra.Command {
	var (
		batches    []int
		iterations int
		height     int
		width      int
		output     string
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Time forward passes for one or more batch sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.buildDetector()
			if err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(c.seed))
			suite, err := RunForwardBenchmark(d, height, width, batches, iterations, rng)
			if err != nil {
				return err
			}

			suite.WriteSummary(cmd.OutOrStdout())
			if output != "" {
				if err := suite.SaveJSON(output); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Results saved to %s\n", output)
			}
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&batches, "batch", []int{1}, "Batch sizes to time; repeatable")
	cmd.Flags().IntVar(&iterations, "iterations", 3, "Timed forward passes per batch size")
	cmd.Flags().IntVar(&height, "height", 448, "Input height")
	cmd.Flags().IntVar(&width, "width", 448, "Input width")
	cmd.Flags().StringVar(&output, "output", "", "Write results as JSON to this file")
	return cmd
}
