// Package main runs the inventory reservation engine: the HTTP API plus the
// background expiry and escalation services.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Meridian-Commerce/reservation_engine/internal/app/runtime"
	"github.com/Meridian-Commerce/reservation_engine/internal/config"
)

func main() {
	envFile := flag.String("env", "", "Path to a .env file to load before reading configuration")
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env (%s): %v", *envFile, err)
		}
	} else {
		_ = godotenv.Load() // allow .env for local runs
	}

	app, err := newApplication(*configPath)
	if err != nil {
		log.Fatalf("initialize engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("run engine: %v", err)
	}

	// The run context is cancelled; shut down against a fresh one.
	if err := app.Shutdown(context.Background()); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func newApplication(configPath string) (*runtime.Application, error) {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, err
		}
		return runtime.NewApplicationWithConfig(cfg)
	}
	return runtime.NewApplication()
}
