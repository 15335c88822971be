package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// cli holds the persistent flag values and the logger shared by every
// subcommand.
type cli struct {
	verbose    bool
	configPath string
	archPath   string
	seed       int64
	workers    int

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "yolo",
		Short: "Compile and run a YOLOv1 detector in pure Go",
		Long: `yolo compiles a darknet architecture description into a pipeline of
convolution blocks, attaches the YOLOv1 detection head and runs forward
passes on image tensors.

The default model is the 24-layer darknet backbone with a 7x7 grid,
2 boxes per cell and 20 classes. Use --config and --arch to load
alternatives from YAML.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if c.verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logger = logger

			compute := DefaultComputeConfig()
			if c.workers > 0 {
				compute.NumWorkers = c.workers
			}
			SetGlobalComputeConfig(compute)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&c.configPath, "config", "", "Model config YAML (in_channels, split_size, num_boxes, num_classes)")
	flags.StringVar(&c.archPath, "arch", "", "Architecture YAML (default: darknet backbone)")
	flags.Int64Var(&c.seed, "seed", 1, "Seed for weight initialization")
	flags.IntVar(&c.workers, "workers", 0, "Worker goroutines for tensor ops (0 = all CPUs)")

	root.AddCommand(
		newSummaryCmd(c),
		newForwardCmd(c),
		newBenchmarkCmd(c),
		newArchCmd(c),
	)
	return root
}

// loadModel resolves the model config and architecture from flags.
func (c *cli) loadModel() (ModelConfig, ArchitectureSpec, error) {
	cfg := DefaultModelConfig()
	if c.configPath != "" {
		loaded, err := LoadModelConfig(c.configPath)
		if err != nil {
			return ModelConfig{}, nil, err
		}
		cfg = loaded
	}

	arch := DefaultArchitecture()
	if c.archPath != "" {
		loaded, err := LoadArchitecture(c.archPath)
		if err != nil {
			return ModelConfig{}, nil, err
		}
		arch = loaded
	}
	return cfg, arch, nil
}

// buildDetector compiles the configured model.
func (c *cli) buildDetector() (*Detector, error) {
	cfg, arch, err := c.loadModel()
	if err != nil {
		return nil, err
	}
	params, err := EstimateParameters(cfg, arch)
	if err != nil {
		return nil, err
	}
	if err := CheckMemory(params); err != nil {
		c.logger.Warn("model may not fit in memory", zap.Error(err))
	}

	return NewDetector(cfg, arch,
		WithLogger(c.logger),
		WithSeed(c.seed),
		WithComputeConfig(GetGlobalComputeConfig()))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
