package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ===========================================================================
// SUMMARY CLI - Inspecting a compiled architecture
// ===========================================================================
//
// Prints every stage the compiler would build, with the feature-map shape it
// produces for a given input size, followed by the head widths. Only the
// plan is computed: no weights are allocated, so the full darknet model can
// be inspected on any machine.
//
// USAGE:
//   yolo summary
//   yolo summary --height 224 --width 224
//   yolo summary --arch tiny.yaml --config voc.yaml
//
// ===========================================================================

func newSummaryCmd(c *cli) *cobra.Command {
	var batch, height, width int

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the compiled stage list and output shapes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, arch, err := c.loadModel()
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), cfg, arch, []int{batch, cfg.InChannels, height, width})
		},
	}

	cmd.Flags().IntVar(&batch, "batch", 1, "Batch size of the planned input")
	cmd.Flags().IntVar(&height, "height", 448, "Input image height")
	cmd.Flags().IntVar(&width, "width", 448, "Input image width")
	return cmd
}

// writeSummary renders the plan for cfg and arch applied to an input of
// shape in.
func writeSummary(w io.Writer, cfg ModelConfig, arch ArchitectureSpec, in []int) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	specs, final, err := Plan(arch, cfg.InChannels)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%-5s %-32s %-20s %12s\n", "#", "Stage", "Output", "Params")
	fmt.Fprintln(w, "-----------------------------------------------------------------------")
	fmt.Fprintf(w, "%-5s %-32s %-20s %12s\n", "", "input", fmt.Sprint(in), "")

	shape := append([]int(nil), in...)
	total := 0
	for i, s := range specs {
		next, err := s.OutputShape(shape)
		if err != nil {
			return fmt.Errorf("stage %d: %w", i, err)
		}
		shape = next
		total += s.NumParameters()
		fmt.Fprintf(w, "%-5d %-32s %-20s %12d\n", i, s, fmt.Sprint(shape), s.NumParameters())
	}

	cells := cfg.SplitSize * cfg.SplitSize
	headIn := final * cells
	flat := numElements(shape[1:])
	fmt.Fprintf(w, "%-5s %-32s %-20s %12s\n", "", "flatten", fmt.Sprint([]int{shape[0], flat}), "")
	if shape[1] != final || shape[2] != cfg.SplitSize || shape[3] != cfg.SplitSize {
		return shapeErrorf("flatten", []int{shape[0], headIn}, shape,
			"backbone output %v does not reduce to a %dx%d grid", shape[1:], cfg.SplitSize, cfg.SplitSize)
	}

	fc1 := headIn*HeadHiddenWidth + HeadHiddenWidth
	fc2 := HeadHiddenWidth*cfg.OutputWidth() + cfg.OutputWidth()
	total += fc1 + fc2
	fmt.Fprintf(w, "%-5s %-32s %-20s %12d\n", "", fmt.Sprintf("linear(%d->%d)", headIn, HeadHiddenWidth),
		fmt.Sprint([]int{shape[0], HeadHiddenWidth}), fc1)
	fmt.Fprintf(w, "%-5s %-32s %-20s %12s\n", "", fmt.Sprintf("leaky_relu(%.1f) + dropout(%.1f)", LeakySlope, HeadDropout),
		fmt.Sprint([]int{shape[0], HeadHiddenWidth}), "")
	fmt.Fprintf(w, "%-5s %-32s %-20s %12d\n", "", fmt.Sprintf("linear(%d->%d)", HeadHiddenWidth, cfg.OutputWidth()),
		fmt.Sprint([]int{shape[0], cfg.OutputWidth()}), fc2)

	fmt.Fprintln(w, "-----------------------------------------------------------------------")
	fmt.Fprintf(w, "Grid: %dx%d cells, %d boxes + %d classes per cell (%d values)\n",
		cfg.SplitSize, cfg.SplitSize, cfg.NumBoxes, cfg.NumClasses, cfg.CellWidth())
	fmt.Fprintf(w, "Output: %v\n", []int{shape[0], cfg.OutputWidth()})
	fmt.Fprintf(w, "Total parameters: %d (%.1f MB as float64)\n", total, float64(total)*8/(1<<20))
	return nil
}
