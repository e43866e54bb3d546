package main

import (
	"fmt"
	"os"

	"retrace/internal/config"
	"retrace/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errorLine(fmt.Sprintf("config: %v", err)))
		os.Exit(1)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errorLine(err.Error()))
		os.Exit(1)
	}
}
