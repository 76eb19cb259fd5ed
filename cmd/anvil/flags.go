package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/anvil/internal/logger"
)

var (
	artifactPath string
	manifestPath string
	anchorPath   string
	logLevel     string
	logFormat    string
)

func commonArtifactFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "artifact",
			Aliases:     []string{"a"},
			Usage:       "path to the compiled model artifact",
			Destination: &artifactPath,
		},
		&cli.StringFlag{
			Name:        "manifest",
			Aliases:     []string{"m"},
			Usage:       "path to the codegen manifest (JSON)",
			Destination: &manifestPath,
		},
		&cli.StringFlag{
			Name:        "anchor",
			Usage:       "path to the 16-byte payload anchor",
			Destination: &anchorPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, text, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
	}
}

func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.Default()
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
