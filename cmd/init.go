package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/gantry-app/gantry/internal/config"
)

const initUsage = `Usage: gantry init [options]

Writes a default config file. Existing files are never overwritten.

Options:
  --config <path>   Target path (default: ~/.gantry/config.toml)
`

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "", "Target path")
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, initUsage) }
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if err := config.WriteDefault(path); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Config ready at %s\n", path)
	return 0
}
