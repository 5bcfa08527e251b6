package main

import (
	"context"
	"log"

	"github.com/mstolbov/cloudfiles/internal/bridge"
	"github.com/mstolbov/cloudfiles/internal/bridge/config"
)

func main() {

	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app, err := bridge.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}
