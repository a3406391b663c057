// repolens is the AI streaming gateway: the relay daemon that owns local
// network access, and the client commands that chat through it.
package main

import (
	"log"
	"os"

	"github.com/alecthomas/kong"
	// REPOLENS_* variables may come from ./.env, e.g. the Gemini API key.
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cli := CLI{}

	// First pass: parse to get --config path
	parser, err := kong.New(&cli,
		kong.Name("repolens"),
		kong.Description("Streaming chat gateway for repository assistants"),
	)
	if err != nil {
		log.Fatalf("failed to create parser: %v", err)
	}
	_, _ = parser.Parse(os.Args[1:])

	if err := LoadConfigFile(cli.Config, &cli); err != nil {
		log.Fatalf("failed to load config file: %v", err)
	}
	if cli.Config != "" {
		if err := ValidateConfigVersion(cli.Version); err != nil {
			log.Fatalf("config error: %v", err)
		}
	}

	// Second pass: CLI/env override file values, run subcommand
	ctx := kong.Parse(&cli,
		kong.Name("repolens"),
		kong.Description("Streaming chat gateway for repository assistants"),
		kong.UsageOnError(),
	)

	setupLogger(os.Stderr, cli.LogLevel, cli.LogFormat)

	if err := cli.ResolvePaths(); err != nil {
		log.Fatalf("failed to resolve paths: %v", err)
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
