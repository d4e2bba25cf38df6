// cmd/busfs/main.go
package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/busfs/internal/config"
	"github.com/tamzrod/busfs/internal/fs"
)

func main() {
	if len(os.Args) < 4 || os.Args[2] != "roundtrip" {
		log.Fatal("usage: busfs <config.yaml> roundtrip <file>...")
	}

	cfgPath := os.Args[1]
	paths := os.Args[3:]

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

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	// --------------------
	// Session
	// --------------------

	session, err := fs.New(fs.Config{
		Endpoint:    cfg.Bus.Endpoint,
		DialTimeout: time.Duration(cfg.Bus.DialTimeoutMs) * time.Millisecond,
		CacheLines:  cfg.Cache.Lines,
	}, logger)
	if err != nil {
		log.Fatalf("session setup failed: %v", err)
	}

	// --------------------
	// Roundtrip workload: copy each file in, read it back, compare.
	// --------------------

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}

		name := filepath.Base(path)
		fh, err := session.Open(name)
		if err != nil {
			log.Fatalf("open %s: %v", name, err)
		}

		if _, err := session.Write(fh, data); err != nil {
			log.Fatalf("write %s: %v", name, err)
		}
		if _, err := session.Seek(fh, 0); err != nil {
			log.Fatalf("seek %s: %v", name, err)
		}

		back := make([]byte, len(data))
		n, err := session.Read(fh, back)
		if err != nil {
			log.Fatalf("read back %s: %v", name, err)
		}
		if n != len(data) || !bytes.Equal(data, back) {
			log.Fatalf("roundtrip mismatch for %s: wrote %d bytes, read %d", name, len(data), n)
		}

		if err := session.Close(fh); err != nil {
			log.Fatalf("close %s: %v", name, err)
		}

		logger.Info().Str("file", name).Int("bytes", len(data)).Msg("roundtrip ok")
	}

	if err := session.Shutdown(); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
}
