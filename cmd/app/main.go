package main

import (
	"flag"
	"log"
	"os"

	"OptionPilot/internal/di"
	"OptionPilot/pkg/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s mode=%s feed=%s underlying=%s", cfg.Environment, cfg.Broker.Mode, cfg.Feed.Source, cfg.Instrument.Underlying)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run blocks until SIGINT/SIGTERM and returns after the position is flat.
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
