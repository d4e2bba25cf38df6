// internal/busdev/server.go

// Package busdev emulates the storage controller: it speaks the server
// side of the register frame protocol against in-memory devices. It
// backs integration tests and local development of the driver.
package busdev

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/busfs/internal/register"
)

// Geometry is the sector/block shape of one emulated device.
type Geometry struct {
	Sectors uint16
	Blocks  uint16
}

type emDevice struct {
	geo  Geometry
	data [][register.BlockSize]byte // sector-major grid
}

// Server emulates a populated storage bus. The protocol is single
// client: connections are served one at a time, and a power-off ends
// the connection (the next accept starts a fresh session against the
// same device contents).
type Server struct {
	devices []*emDevice
	log     zerolog.Logger
}

// New builds a server with one emulated device per geometry, assigned
// dense device ids from 0.
func New(geometries []Geometry, log zerolog.Logger) (*Server, error) {
	if len(geometries) == 0 {
		return nil, errors.New("busdev: at least one device required")
	}
	if len(geometries) > register.MaxDevices {
		return nil, fmt.Errorf("busdev: at most %d devices, got %d",
			register.MaxDevices, len(geometries))
	}

	s := &Server{log: log}
	for i, g := range geometries {
		if g.Sectors == 0 || g.Blocks == 0 {
			return nil, fmt.Errorf("busdev: device %d: sectors and blocks must be > 0", i)
		}
		s.devices = append(s.devices, &emDevice{
			geo:  g,
			data: make([][register.BlockSize]byte, uint(g.Sectors)*uint(g.Blocks)),
		})
	}
	return s, nil
}

// Serve accepts and handles sessions on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("busdev: accept: %w", err)
			}
			s.handle(conn)
		}
	})

	return g.Wait()
}

// handle runs one protocol session. It returns when the client powers
// off, disconnects, or desynchronizes the stream.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("session started")

	for {
		fr, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn().Err(err).Msg("session read failed")
			}
			return
		}

		f := register.Unpack(fr)

		switch f.C0 {
		case register.OpPowerOn:
			if err := writeFrame(conn, register.AckOf(f)); err != nil {
				return
			}

		case register.OpDevProbe:
			f.D0 = s.probeMask()
			if err := writeFrame(conn, register.AckOf(f)); err != nil {
				return
			}

		case register.OpDevInit:
			resp := register.NackOf(f)
			if int(f.C1) < len(s.devices) {
				f.D0 = s.devices[f.C1].geo.Sectors
				f.D1 = s.devices[f.C1].geo.Blocks
				resp = register.AckOf(f)
			}
			if err := writeFrame(conn, resp); err != nil {
				return
			}

		case register.OpBlockXfer:
			if err := s.blockXfer(conn, f); err != nil {
				return
			}

		case register.OpPowerOff:
			writeFrame(conn, register.AckOf(f))
			s.log.Debug().Msg("session powered off")
			return

		default:
			s.log.Warn().Uint8("opcode", f.C0).Msg("unknown opcode")
			if err := writeFrame(conn, register.NackOf(f)); err != nil {
				return
			}
		}
	}
}

// blockXfer answers one transfer. Bad geometry gets a non-ack, but the
// payload still crosses the wire in full so the stream stays in sync.
func (s *Server) blockXfer(conn net.Conn, f register.Fields) error {
	blk, ok := s.block(f.C1, f.D0, f.D1)

	switch f.C2 {
	case register.XferWrite:
		var payload [register.BlockSize]byte
		if _, err := io.ReadFull(conn, payload[:]); err != nil {
			return err
		}
		if !ok {
			return writeFrame(conn, register.NackOf(f))
		}
		*blk = payload
		return writeFrame(conn, register.AckOf(f))

	case register.XferRead:
		if !ok {
			// non-ack plus a zero payload; the client reads both
			if err := writeFrame(conn, register.NackOf(f)); err != nil {
				return err
			}
			var zero [register.BlockSize]byte
			_, err := conn.Write(zero[:])
			return err
		}
		if err := writeFrame(conn, register.AckOf(f)); err != nil {
			return err
		}
		_, err := conn.Write(blk[:])
		return err

	default:
		return writeFrame(conn, register.NackOf(f))
	}
}

func (s *Server) block(dev uint8, sector, block uint16) (*[register.BlockSize]byte, bool) {
	if int(dev) >= len(s.devices) {
		return nil, false
	}
	d := s.devices[dev]
	if sector >= d.geo.Sectors || block >= d.geo.Blocks {
		return nil, false
	}
	return &d.data[uint(sector)*uint(d.geo.Blocks)+uint(block)], true
}

func (s *Server) probeMask() uint16 {
	var mask uint16
	for i := range s.devices {
		mask |= 1 << i
	}
	return mask
}

// ---- frame I/O (network byte order) ----

func readFrame(conn net.Conn) (register.Frame, error) {
	var buf [8]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return register.Frame(binary.BigEndian.Uint64(buf[:])), nil
}

func writeFrame(conn net.Conn, fr register.Frame) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(fr))
	_, err := conn.Write(buf[:])
	return err
}
