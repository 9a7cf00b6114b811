// Command tndump inspects tensor dump files (dense/list text format) and
// serialized METIS-style multigraph packets, printing a human-readable
// summary of either, following the original engine's convention of a
// small standalone inspector tool alongside the compiler and runtime
// binaries.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/exanet/tnengine/internal/dump"
	"github.com/exanet/tnengine/metisgraph"
)

func main() {
	root := &cobra.Command{Use: "tndump", Short: "Inspect tensor dump and multigraph packet files"}
	root.AddCommand(newTensorCmd(), newGraphCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTensorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tensor <file>",
		Short: "Print shape and nonzero count of a dense/list tensor dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			buf, format, err := dump.Read(f)
			if err != nil {
				return err
			}
			nonzero := 0
			for _, v := range buf.Data {
				if v != 0 {
					nonzero++
				}
			}
			fmt.Printf("format:   %s\n", format)
			fmt.Printf("shape:    %v\n", buf.Shape)
			fmt.Printf("elements: %d\n", len(buf.Data))
			fmt.Printf("nonzero:  %d\n", nonzero)
			return nil
		},
	}
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <file>",
		Short: "Print vertex/edge counts of a serialized METIS-style multigraph packet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			g, err := metisgraph.Deserialize(data)
			if err != nil {
				return err
			}
			fmt.Printf("vertices: %d\n", g.NumVertices())
			fmt.Printf("edges:    %d\n", len(g.Edges))
			var totalWeight int64
			for _, w := range g.VertexWeight {
				totalWeight += int64(w)
			}
			fmt.Printf("total vertex weight: %d\n", totalWeight)
			return nil
		},
	}
}
