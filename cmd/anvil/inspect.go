package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the constants declared by a codegen manifest",
		Flags: commonArtifactFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, loadConfig(), nil)

			manifest, err := readManifest()
			if err != nil {
				return err
			}
			descs, err := manifest.Descriptors()
			if err != nil {
				return err
			}

			fmt.Printf("inputs:  %v\n", manifest.Inputs)
			fmt.Printf("outputs: %v\n", manifest.Outputs)

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORD\tNAME\tKIND\tSHAPE\tBYTES\tFOLDED")
			var total uint64
			for i, d := range descs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%v\t%d\t%v\n",
					i, d.Name, d.Kind, d.Shape, d.DataSize, d.FromFolded)
				if !d.FromFolded {
					total += d.DataSize
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Printf("payload bytes: %d\n", total)
			return nil
		},
	}
}
