package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/anvil/internal/model"
	"github.com/samcharles93/anvil/pkg/payload"
)

func packCmd() *cli.Command {
	var (
		dataPath  string
		anchorOut string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Append a constants payload to a compiled artifact",
		Flags: append(commonArtifactFlags(),
			&cli.StringFlag{
				Name:        "data",
				Aliases:     []string{"d"},
				Usage:       "file with the concatenated raw constant bytes, in manifest order",
				Destination: &dataPath,
			},
			&cli.StringFlag{
				Name:        "anchor-out",
				Usage:       "where to write the 16-byte anchor blob",
				Destination: &anchorOut,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, loadConfig(), nil)
			log := newLogger()

			manifest, err := readManifest()
			if err != nil {
				return err
			}
			descs, err := manifest.Descriptors()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(dataPath)
			if err != nil {
				return fmt.Errorf("read constant data: %w", err)
			}
			var want uint64
			for _, d := range descs {
				if d.FromFolded {
					continue
				}
				want += d.DataSize
			}
			if uint64(len(data)) != want {
				return fmt.Errorf("constant data is %d bytes, manifest declares %d", len(data), want)
			}

			w, err := payload.NewWriter(artifactPath)
			if err != nil {
				return err
			}
			var cursor uint64
			for _, d := range descs {
				if d.FromFolded {
					continue
				}
				if err := w.Add(data[cursor : cursor+d.DataSize]); err != nil {
					return err
				}
				cursor += d.DataSize
			}
			anchor, err := w.Finalise()
			if err != nil {
				return fmt.Errorf("append payload: %w", err)
			}

			if anchorOut != "" {
				if err := os.WriteFile(anchorOut, anchor.Encode(), 0o644); err != nil {
					return fmt.Errorf("write anchor: %w", err)
				}
			}
			log.Info("payload appended",
				"artifact", artifactPath,
				"constants", len(descs),
				"payload_bytes", cursor,
				"region_bytes", anchor.Size,
			)
			return nil
		},
	}
}

func readManifest() (*model.Manifest, error) {
	if manifestPath == "" {
		return nil, fmt.Errorf("missing --manifest")
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return model.ParseManifest(data)
}
