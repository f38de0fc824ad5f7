package main

import (
	"context"
	"log"

	"github.com/david/opportunity-scout/internal/app"
	"github.com/david/opportunity-scout/internal/config"
)

func main() {
	cfg := config.Load()

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	if cfg.CronSecret == "" {
		log.Print("CRON_SECRET is not set; the scan trigger only accepts the platform cron user agent")
	}

	srv := a.Server()
	log.Printf("Server starting on port %s...", cfg.Port)
	if err := srv.Start(cfg.Port); err != nil {
		log.Fatal(err)
	}
}
