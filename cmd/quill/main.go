package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ewancrowle/quill/internal/api"
	"github.com/ewancrowle/quill/internal/config"
	"github.com/ewancrowle/quill/internal/congestion"
	"github.com/ewancrowle/quill/internal/logging"
	"github.com/ewancrowle/quill/internal/telemetry"
	"github.com/ewancrowle/quill/internal/transport"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Log.Level)

	// 2. Congestion controller and optional telemetry
	cc := congestion.NewController(
		int64(cfg.Transport.InitialWindowPackets)*congestion.MaxDatagramSize,
		congestion.SystemClock, logger)

	pub := telemetry.New(cfg)
	if pub != nil {
		defer pub.Close()
	}

	// 3. Transport endpoint
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint, err := transport.NewEndpoint(cfg, cc, congestion.SystemClock, logger, pub)
	if err != nil {
		log.Fatalf("Failed to initialize transport endpoint: %v", err)
	}
	defer endpoint.Close()

	go func() {
		if err := endpoint.Run(ctx); err != nil {
			log.Fatalf("Transport endpoint error: %v", err)
		}
	}()
	log.Printf("Transport endpoint listening on %s", endpoint.LocalAddr())

	// 4. Debug API
	server := api.NewServer(cfg, cc, endpoint)
	go func() {
		log.Printf("API Server listening on :%d", cfg.API.Port)
		if err := server.Start(); err != nil {
			log.Fatalf("API server error: %v", err)
		}
	}()

	// Wait for interruption
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down quill...")
	_ = server.Shutdown()
	cancel()
}
