// Command tnbench runs a directory of symbolic network specs through the
// evaluation engine and reports per-network flop counts and wall-clock
// latency, following the shape of the original engine's sublperf
// micro-benchmark harness but driving the tensor-network planner and
// executor instead of raw kernels.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/exanet/tnengine/config"
	"github.com/exanet/tnengine/engine"
	"github.com/exanet/tnengine/network"
)

func main() {
	var (
		dir     string
		planner string
		repeat  int
	)

	root := &cobra.Command{
		Use:   "tnbench",
		Short: "Benchmark tensor-network evaluation over a directory of specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(dir, planner, repeat)
		},
	}
	root.Flags().StringVar(&dir, "dir", ".", "directory of *.tn symbolic network spec files")
	root.Flags().StringVar(&planner, "planner", "greed", "planner algorithm: dummy, heuro, greed, metis")
	root.Flags().IntVar(&repeat, "repeat", 1, "number of times to evaluate each network")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dir, planner string, repeat int) error {
	specs, err := loadSpecs(dir)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		fmt.Printf("no *.tn spec files found in %s\n", dir)
		return nil
	}

	cfg := config.DefaultConfig()
	cfg.Planner = config.PlannerAlgorithm(planner)
	e, err := engine.New(engine.Options{Config: cfg})
	if err != nil {
		return err
	}

	fmt.Printf("%-24s %10s %14s %10s\n", "network", "flops", "latency", "runs")
	for _, spec := range specs {
		net, err := network.FromSymbolic(spec.expr, map[string][]uint64{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "tnbench: %s: %v\n", spec.name, err)
			continue
		}

		var total time.Duration
		var flopsBefore = engine.StatsSync(e).TotalFlops
		for i := 0; i < repeat; i++ {
			clone := net.Clone()
			start := time.Now()
			if err := engine.EvaluateSync(context.Background(), e, clone); err != nil {
				fmt.Fprintf(os.Stderr, "tnbench: %s: %v\n", spec.name, err)
				break
			}
			total += time.Since(start)
		}
		flopsAfter := engine.StatsSync(e).TotalFlops

		fmt.Printf("%-24s %10d %14s %10d\n", spec.name, flopsAfter-flopsBefore, (total / time.Duration(max1(repeat))).String(), repeat)
	}
	return nil
}

type namedSpec struct {
	name string
	expr string
}

func loadSpecs(dir string) ([]namedSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tnbench: reading %s: %w", dir, err)
	}
	var specs []namedSpec
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".tn" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		specs = append(specs, namedSpec{name: ent.Name(), expr: string(data)})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].name < specs[j].name })
	return specs, nil
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
