package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/tessellate-ml/tessera/internal/config"
	"github.com/tessellate-ml/tessera/internal/gpu"
	"github.com/tessellate-ml/tessera/internal/logger"
	"github.com/tessellate-ml/tessera/internal/metrics"
	"github.com/tessellate-ml/tessera/internal/ndarray"
	"github.com/tessellate-ml/tessera/pkg/compute"
)

func main() {
	var cfg *config.Config
	var log *zap.Logger

	app := &cli.App{
		Name:  "tessera",
		Usage: "Device-aware numeric compute: matmul, elementwise ops and activation kernels on CPU or GPU",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yaml",
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"TESSERA_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity)
			if err != nil {
				return err
			}
			log = zapLogger.Named("cli")
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "devices",
				Usage: "Report detected GPUs and the resolved device",
				Action: func(c *cli.Context) error {
					return runDevices(cfg, log)
				},
			},
			{
				Name:  "backends",
				Usage: "List compiled-in GPU backends and their availability",
				Action: func(c *cli.Context) error {
					return runBackends(cfg, log)
				},
			},
			{
				Name:  "activations",
				Usage: "List registered activation functions",
				Action: func(c *cli.Context) error {
					return runActivations(cfg, log)
				},
			},
			{
				Name:  "bench",
				Usage: "Benchmark matmul on the active device",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "size", Value: 512, Usage: "square matrix dimension"},
					&cli.IntFlag{Name: "iterations", Value: 10, Usage: "timed iterations"},
				},
				Action: func(c *cli.Context) error {
					return runBench(cfg, log, c.Int("size"), c.Int("iterations"))
				},
			},
			{
				Name:  "serve",
				Usage: "Run the metrics and inspection HTTP server",
				Action: func(c *cli.Context) error {
					return runServe(cfg, log)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if log != nil {
			log.Fatal("command failed", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

// loadConfig tolerates a missing default config file so the CLI works out
// of the box; an explicitly broken file is still an error.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func runDevices(cfg *config.Config, log *zap.Logger) error {
	engine, err := compute.New(cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	gpus := engine.DetectGPUs()
	if len(gpus) == 0 {
		fmt.Println("No GPUs detected.")
	}
	for i, g := range gpus {
		capable := "no"
		if g.ComputeCapable {
			capable = "yes"
		}
		fmt.Printf("GPU %d: %s\n", i, g.Name)
		fmt.Printf("   Vendor:   %s\n", g.Vendor)
		fmt.Printf("   API:      %s\n", g.APISupport)
		fmt.Printf("   Memory:   %d MB\n", g.MemoryMB)
		fmt.Printf("   Capable:  %s\n", capable)
	}
	fmt.Printf("Active device: %s\n", engine.CurrentDevice())
	return nil
}

func runBackends(cfg *config.Config, log *zap.Logger) error {
	engine, err := compute.New(cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	available := engine.AvailableGPUBackends()
	if len(available) == 0 {
		fmt.Println("No GPU backends available (built without GPU support or no hardware).")
	} else {
		names := make([]string, len(available))
		for i, b := range available {
			names[i] = b.String()
		}
		fmt.Printf("Available backends: %s\n", strings.Join(names, ", "))
	}
	fmt.Printf("Active backend: %s\n", engine.CurrentGPUBackend())
	return nil
}

func runActivations(cfg *config.Config, log *zap.Logger) error {
	engine, err := compute.New(cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	names := engine.Activations()
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runBench(cfg *config.Config, log *zap.Logger, size, iterations int) error {
	if size < 1 || iterations < 1 {
		return fmt.Errorf("size and iterations must be positive")
	}

	engine, err := compute.New(cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	data := make([]float64, size*size)
	for i := range data {
		data[i] = float64(i%100) / 100.0
	}
	a, err := ndarray.FromSlice(data, size, size)
	if err != nil {
		return err
	}
	b := a.Clone()
	out := ndarray.Zeros(size, size)

	// Warm up so kernel compilation does not skew the timing.
	if err := engine.MatMul(a, b, out); err != nil {
		return err
	}

	start := time.Now()
	for i := 0; i < iterations; i++ {
		if err := engine.MatMul(a, b, out); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	flops := 2.0 * float64(size) * float64(size) * float64(size) * float64(iterations)
	gflops := flops / elapsed.Seconds() / 1e9
	metrics.MatMulGFLOPS.Set(gflops)

	fmt.Printf("matmul %dx%d, %d iterations on %s", size, size, iterations, engine.CurrentDevice())
	if backend := engine.CurrentGPUBackend(); backend != gpu.BackendNone {
		fmt.Printf(" (%s)", backend)
	}
	fmt.Printf("\n  total:  %s\n  per op: %s\n  GFLOPS: %.2f\n",
		elapsed, elapsed/time.Duration(iterations), gflops)
	return nil
}
