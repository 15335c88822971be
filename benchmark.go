package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Forward-pass benchmarking. Times repeated Detector.Forward calls on a
// random input and records them together with what the host looks like, so
// runs on different machines can be compared from their JSON output.
//
// WHAT WE'RE MEASURING:
//   - Time per forward pass and per image
//   - Throughput in images per second
//   - Approximate GFLOPS (2 * multiply-adds of every conv and linear layer)
//   - Parameter memory against available system memory
//
// Hardware details come from gopsutil, which reads /proc, sysctl or WMI
// depending on the platform.
//
// ===========================================================================

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// BenchmarkResult represents one timed configuration.
type BenchmarkResult struct {
	Workers      int           `json:"workers"`
	InputShape   []int         `json:"input_shape"`
	Iterations   int           `json:"iterations"`
	TotalTime    time.Duration `json:"total_time_ns"`
	AvgTime      time.Duration `json:"avg_time_ns"`
	ImagesPerSec float64       `json:"images_per_sec"`
	GFLOPS       float64       `json:"gflops"`
	ParameterMB  float64       `json:"parameter_mb"`
	OutputWidth  int           `json:"output_width"`
}

// BenchmarkSuite represents a collection of benchmarks run on a system.
type BenchmarkSuite struct {
	Timestamp time.Time         `json:"timestamp"`
	Hardware  HardwareInfo      `json:"hardware"`
	Results   []BenchmarkResult `json:"results"`
}

// HardwareInfo describes the system hardware.
type HardwareInfo struct {
	OS         string  `json:"os"`
	Arch       string  `json:"arch"`
	CPUModel   string  `json:"cpu_model"`
	NumCPU     int     `json:"num_cpu"`
	CPUMhz     float64 `json:"cpu_mhz"`
	TotalMemMB uint64  `json:"total_mem_mb"`
	AvailMemMB uint64  `json:"available_mem_mb"`
}

// DetectHardware gathers information about the current system. Fields that
// cannot be read are left zero.
func DetectHardware() HardwareInfo {
	info := HardwareInfo{
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		NumCPU: runtime.NumCPU(),
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
		info.CPUMhz = cpus[0].Mhz
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemMB = vm.Total / (1 << 20)
		info.AvailMemMB = vm.Available / (1 << 20)
	}

	return info
}

// ParameterBytes is the memory held by the detector's float64 parameters.
func (d *Detector) ParameterBytes() uint64 {
	return uint64(d.NumParameters()) * 8
}

// CheckMemory returns an error when numParams float64 parameters exceed the
// memory the OS reports as available. It returns nil when the amount cannot
// be read.
func CheckMemory(numParams int) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	if need := uint64(numParams) * 8; need > vm.Available {
		return fmt.Errorf("model parameters need %d MB, only %d MB available",
			need/(1<<20), vm.Available/(1<<20))
	}
	return nil
}

// ForwardFLOPs estimates floating point operations of one forward pass over
// an input of the given shape: 2 per multiply-add in every conv and linear
// layer. Returns an error if the shape is not accepted by the model.
func (d *Detector) ForwardFLOPs(inShape []int) (int64, error) {
	if _, err := d.OutputShape(inShape); err != nil {
		return 0, err
	}

	var flops int64
	shape := append([]int(nil), inShape...)
	for _, s := range d.pipeline.specs {
		next, err := s.OutputShape(shape)
		if err != nil {
			return 0, err
		}
		if s.Kind == StageFilter {
			outPositions := int64(next[0] * next[2] * next[3])
			flops += 2 * outPositions * int64(s.OutChannels*s.InChannels*s.KernelSize*s.KernelSize)
		}
		shape = next
	}

	batch := int64(inShape[0])
	flops += 2 * batch * int64(d.head.fc1.in*d.head.fc1.out)
	flops += 2 * batch * int64(d.head.fc2.in*d.head.fc2.out)
	return flops, nil
}

// RunForwardBenchmark times iterations forward passes of a random
// (batch, in_channels, height, width) input for each batch size.
func RunForwardBenchmark(d *Detector, height, width int, batchSizes []int, iterations int, rng *rand.Rand) (*BenchmarkSuite, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", iterations)
	}

	suite := &BenchmarkSuite{
		Timestamp: time.Now(),
		Hardware:  DetectHardware(),
	}

	for _, batch := range batchSizes {
		if batch <= 0 {
			return nil, fmt.Errorf("batch size must be positive, got %d", batch)
		}
		shape := []int{batch, d.config.InChannels, height, width}
		flops, err := d.ForwardFLOPs(shape)
		if err != nil {
			return nil, err
		}
		input := NewTensorRandN(rng, 1.0, shape...)

		// Warm up
		if _, err := d.Forward(input); err != nil {
			return nil, err
		}

		start := time.Now()
		for i := 0; i < iterations; i++ {
			if _, err := d.Forward(input); err != nil {
				return nil, err
			}
		}
		total := time.Since(start)
		avg := total / time.Duration(iterations)

		suite.Results = append(suite.Results, BenchmarkResult{
			Workers:      d.compute.numWorkers(),
			InputShape:   shape,
			Iterations:   iterations,
			TotalTime:    total,
			AvgTime:      avg,
			ImagesPerSec: float64(batch) / avg.Seconds(),
			GFLOPS:       float64(flops) / avg.Seconds() / 1e9,
			ParameterMB:  float64(d.ParameterBytes()) / (1 << 20),
			OutputWidth:  d.head.OutFeatures(),
		})
	}

	return suite, nil
}

// SaveJSON writes the suite to filename.
func (suite *BenchmarkSuite) SaveJSON(filename string) error {
	data, err := json.MarshalIndent(suite, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// WriteSummary prints a human-readable table of the results to w.
func (suite *BenchmarkSuite) WriteSummary(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "FORWARD PASS BENCHMARK")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "System: %s/%s, %d CPUs\n", suite.Hardware.OS, suite.Hardware.Arch, suite.Hardware.NumCPU)
	if suite.Hardware.CPUModel != "" {
		fmt.Fprintf(w, "CPU: %s (%.0f MHz)\n", suite.Hardware.CPUModel, suite.Hardware.CPUMhz)
	}
	if suite.Hardware.TotalMemMB > 0 {
		fmt.Fprintf(w, "Memory: %d MB total, %d MB available\n", suite.Hardware.TotalMemMB, suite.Hardware.AvailMemMB)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-8s %-18s %-14s %-12s %-10s\n", "Workers", "Input", "Avg time", "Images/s", "GFLOPS")
	fmt.Fprintln(w, "───────────────────────────────────────────────────────────────")
	for _, r := range suite.Results {
		fmt.Fprintf(w, "%-8d %-18s %-14s %-12.2f %-10.2f\n",
			r.Workers, fmt.Sprint(r.InputShape), r.AvgTime.Round(time.Microsecond), r.ImagesPerSec, r.GFLOPS)
	}
	fmt.Fprintln(w)
}
