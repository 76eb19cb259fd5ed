package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/anvil/pkg/payload"
)

func verifyCmd() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Validate the payload appended to an artifact",
		Flags: commonArtifactFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, loadConfig(), nil)
			log := newLogger()

			anchor, err := readAnchor()
			if err != nil {
				return err
			}
			loc, err := payload.NewSelfMap(artifactPath, anchor)
			if err != nil {
				return err
			}
			defer func() { _ = loc.Close() }()

			data, err := loc.Bytes()
			if err != nil {
				return fmt.Errorf("payload verification failed: %w", err)
			}
			log.Info("payload verified",
				"artifact", artifactPath,
				"payload_bytes", len(data),
				"magic", fmt.Sprintf("%#x", anchor.Magic),
			)
			return nil
		},
	}
}

func readAnchor() (payload.Anchor, error) {
	if anchorPath == "" {
		return payload.Anchor{}, fmt.Errorf("missing --anchor")
	}
	data, err := os.ReadFile(anchorPath)
	if err != nil {
		return payload.Anchor{}, fmt.Errorf("read anchor: %w", err)
	}
	return payload.ParseAnchor(data)
}
