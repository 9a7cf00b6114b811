// Command tnctl is an interactive/scriptable client for a running (or
// in-process) evaluation engine, grouped the way the client API itself
// is grouped: space, network, and config subcommands, following the
// original engine's sublc/sublrun command-line tools but rebuilt on
// cobra since this stack's dependency corpus includes it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/exanet/tnengine/config"
	"github.com/exanet/tnengine/engine"
	"github.com/exanet/tnengine/network"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "tnctl",
		Short: "Control and query a tensor-network evaluation engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config overlay")

	root.AddCommand(newSpaceCmd(), newNetworkCmd(), newConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newEngine() (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{Config: cfg, DefaultGroup: nil})
}

func newSpaceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "space", Short: "Manage index spaces"}

	create := &cobra.Command{
		Use:   "create <name> <extent>",
		Short: "Register a new named space",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			var extent uint64
			if _, err := fmt.Sscanf(args[1], "%d", &extent); err != nil {
				return fmt.Errorf("tnctl: bad extent %q: %w", args[1], err)
			}
			id, err := engine.CreateSpaceSync(e, args[0], extent)
			if err != nil {
				return err
			}
			fmt.Printf("space %q created with id %d\n", args[0], id)
			return nil
		},
	}

	lookup := &cobra.Command{
		Use:   "lookup <name>",
		Short: "Resolve a space id by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			id, err := engine.LookupSpaceSync(e, args[0])
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	destroy := &cobra.Command{
		Use:   "destroy <id>",
		Short: "Destroy a space by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			var id int
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("tnctl: bad id %q: %w", args[0], err)
			}
			return engine.DestroySpaceSync(e, id)
		},
	}

	cmd.AddCommand(create, lookup, destroy)
	return cmd
}

func newNetworkCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "network", Short: "Evaluate tensor networks"}

	var exprFlag string
	evaluate := &cobra.Command{
		Use:   "evaluate",
		Short: "Parse a symbolic network expression and evaluate it synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			if exprFlag == "" {
				return fmt.Errorf("tnctl: --expr is required")
			}
			e, err := newEngine()
			if err != nil {
				return err
			}
			net, err := network.FromSymbolic(exprFlag, map[string][]uint64{})
			if err != nil {
				return fmt.Errorf("tnctl: parsing expression: %w", err)
			}
			if err := engine.EvaluateSync(context.Background(), e, net); err != nil {
				return err
			}
			stats := engine.StatsSync(e)
			fmt.Printf("evaluated: %d networks, %d flops\n", stats.NetworksEvaluated, stats.TotalFlops)
			return nil
		},
	}
	evaluate.Flags().StringVar(&exprFlag, "expr", "", "symbolic contraction expression, e.g. 'OUT() = A(i) * B(i)'")

	cmd.AddCommand(evaluate)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect resolved configuration"}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration (defaults < file < env)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("backend:    %s\n", cfg.Backend)
			fmt.Printf("planner:    %s\n", cfg.Planner)
			fmt.Printf("log_level:  %s\n", cfg.LogLevelName)
			fmt.Printf("cache_mode: %s\n", cfg.CacheMode)
			fmt.Printf("cache_path: %s\n", cfg.CachePath)
			fmt.Printf("fast_math:  %t\n", cfg.FastMath)
			fmt.Printf("dry_run:    %t\n", cfg.DryRun)
			return nil
		},
	}
	cmd.AddCommand(show)
	return cmd
}
