// cmd/busdevd/main.go
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/tamzrod/busfs/internal/busdev"
	"github.com/tamzrod/busfs/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: busdevd <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	if cfg.Emulator == nil {
		log.Fatal("config has no emulator section")
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	// --------------------
	// Emulated devices
	// --------------------

	geometries := make([]busdev.Geometry, 0, len(cfg.Emulator.Devices))
	for _, d := range cfg.Emulator.Devices {
		geometries = append(geometries, busdev.Geometry{
			Sectors: d.Sectors,
			Blocks:  d.Blocks,
		})
	}

	srv, err := busdev.New(geometries, logger)
	if err != nil {
		log.Fatalf("emulator setup failed: %v", err)
	}

	ln, err := net.Listen("tcp", cfg.Emulator.Listen)
	if err != nil {
		log.Fatalf("listen failed: %v", err)
	}

	logger.Info().
		Str("listen", cfg.Emulator.Listen).
		Int("devices", len(geometries)).
		Msg("storage bus emulator up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx, ln); err != nil {
		log.Fatalf("serve failed: %v", err)
	}
}
