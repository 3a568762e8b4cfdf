package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chainsafe/elements-duel/pkg/app"
	"github.com/chainsafe/elements-duel/pkg/app/agent"
	"github.com/chainsafe/elements-duel/pkg/config"
)

func main() {
	configPath := flag.String("config", "elementsd.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var runner app.Runner = agent.NewServer(cfg)
	if err := runner.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "elementsd: %v\n", err)
		os.Exit(1)
	}
}
