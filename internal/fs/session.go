// internal/fs/session.go

// Package fs maps byte-addressable files onto chains of fixed-size
// blocks scattered across the storage bus devices.
package fs

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/busfs/internal/bus"
	"github.com/tamzrod/busfs/internal/cache"
	"github.com/tamzrod/busfs/internal/device"
	"github.com/tamzrod/busfs/internal/register"
)

// maxFiles bounds the file table. Handles are dense and never reused,
// so this caps distinct paths per session.
const maxFiles = 4096

// Requester sends one command frame over the bus. Satisfied by
// bus.Client; swapped for a fake in unit tests.
type Requester interface {
	Request(fr register.Frame, payload []byte) (register.Frame, error)
}

// Config carries the startup parameters of a session.
type Config struct {
	Endpoint    string
	DialTimeout time.Duration
	CacheLines  int
}

// file is one entry of the file table. State persists for the life of
// the session: closing only clears the open flag, so a path can be
// reopened and resumes with its prior size and contents.
type file struct {
	handle int
	name   string
	pos    int64
	size   int64
	first  *device.Addr // nil until the first write allocates a block
	open   bool
}

// Session owns everything a storage session needs: the bus connection,
// the device table, the file table and the block cache.
//
// A session is single-threaded by design: the wire protocol is strictly
// request-then-response, so all operations must come from one logical
// thread of control.
type Session struct {
	cfg Config
	log zerolog.Logger

	bus     Requester
	devices *device.Table
	cache   *cache.Cache
	files   []*file
	powered bool
}

// New creates a session. No I/O happens until the first Open, which
// powers on the bus and probes the devices.
func New(cfg Config, log zerolog.Logger) (*Session, error) {
	if cfg.CacheLines <= 0 {
		cfg.CacheLines = 64
	}

	client, err := bus.New(bus.Config{
		Endpoint:    cfg.Endpoint,
		DialTimeout: cfg.DialTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	return &Session{cfg: cfg, log: log, bus: client}, nil
}

// powerOn runs the power-on/probe/init sequence and sets up the cache.
func (s *Session) powerOn() error {
	tab, err := device.PowerOn(s.bus, s.log)
	if err != nil {
		s.log.Error().Err(err).Msg("power-on sequence failed")
		return err
	}

	c, err := cache.New(s.cfg.CacheLines, s.log)
	if err != nil {
		return err
	}

	s.devices = tab
	s.cache = c
	s.powered = true
	return nil
}

// Open opens the file at path and returns its handle.
//
// The first Open of the session powers on the storage bus. A path that
// was opened and closed before reopens with its size and contents
// intact and its position reset to 0. Opening a currently open path
// fails. Paths are compared by content.
func (s *Session) Open(path string) (int, error) {
	if !s.powered {
		if err := s.powerOn(); err != nil {
			return -1, err
		}
	}

	for _, f := range s.files {
		if f.name != path {
			continue
		}
		if f.open {
			s.log.Error().Str("path", path).Msg("open failed: already open")
			return -1, fmt.Errorf("%w: %s", ErrAlreadyOpen, path)
		}
		f.pos = 0
		f.open = true
		s.log.Debug().Str("path", path).Int("handle", f.handle).Msg("file reopened")
		return f.handle, nil
	}

	if len(s.files) >= maxFiles {
		s.log.Error().Str("path", path).Msg("open failed: file table full")
		return -1, ErrFileTableFull
	}

	f := &file{
		handle: len(s.files),
		name:   path,
		open:   true,
	}
	s.files = append(s.files, f)

	s.log.Debug().Str("path", path).Int("handle", f.handle).Msg("file created")
	return f.handle, nil
}

// lookup resolves fh to an open file.
func (s *Session) lookup(fh int) (*file, error) {
	if fh < 0 || fh >= len(s.files) {
		s.log.Error().Int("handle", fh).Msg("invalid file handle")
		return nil, fmt.Errorf("%w: %d", ErrBadHandle, fh)
	}
	f := s.files[fh]
	if !f.open {
		s.log.Error().Int("handle", fh).Msg("file not open")
		return nil, fmt.Errorf("%w: %d not open", ErrBadHandle, fh)
	}
	return f, nil
}

// Close closes an open file. Double-close fails. The file's state stays
// in the table so the path can be reopened later.
func (s *Session) Close(fh int) error {
	f, err := s.lookup(fh)
	if err != nil {
		return err
	}
	f.open = false
	s.log.Debug().Int("handle", fh).Str("path", f.name).Msg("file closed")
	return nil
}

// Shutdown closes every open file, releases the device grids, powers
// off the bus and tears down the cache, logging its statistics. A
// malformed power-off acknowledgement is fatal.
func (s *Session) Shutdown() error {
	if !s.powered {
		return nil
	}

	for _, f := range s.files {
		if !f.open {
			continue
		}
		if err := s.Close(f.handle); err != nil {
			return err
		}
	}

	s.devices.Release()

	resp, err := s.bus.Request(register.Command(register.OpPowerOff), nil)
	if err != nil {
		s.log.Error().Err(err).Msg("power off failed")
		return err
	}
	if f := register.Unpack(resp); !register.Ack(f, register.OpPowerOff) {
		s.log.Error().Msg("power off not acknowledged")
		return fmt.Errorf("%w: power-off not acknowledged", ErrProtocol)
	}

	stats := s.cache.Close()
	s.powered = false

	s.log.Info().
		Int64("cache_hits", stats.Hits).
		Int64("cache_misses", stats.Misses).
		Float64("cache_ratio", stats.Ratio()).
		Msg("session shut down")
	return nil
}

// CacheStats reports the cumulative cache counters of the session.
func (s *Session) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}
