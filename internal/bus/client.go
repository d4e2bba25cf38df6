// internal/bus/client.go

// Package bus owns the single stream connection to the storage
// controller and moves command frames and block payloads across it.
package bus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/busfs/internal/register"
)

// ErrTransport covers connect failures and short reads/writes on the
// bus connection. The operation that hit it got no usable response.
var ErrTransport = errors.New("bus: transport failure")

// Config is minimal transport config.
type Config struct {
	Endpoint    string
	DialTimeout time.Duration
}

// Client is the bus transport. The connection is established lazily on
// the first request and reused until power-off or a transport failure.
//
// The wire protocol is strictly request-then-response; a Client must be
// driven by one caller at a time.
type Client struct {
	cfg  Config
	conn net.Conn
	log  zerolog.Logger
}

// New creates an unconnected client.
func New(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("bus: endpoint required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Client{cfg: cfg, log: log}, nil
}

// Request sends one command frame and returns the response frame.
//
// The opcode selects the wire sequence:
//   - block read:  frame out, frame in, 256-byte payload in (into payload)
//   - block write: frame out, 256-byte payload out, frame in
//   - power off:   frame out, frame in, connection closed and discarded
//   - all others:  frame out, frame in
//
// payload must be exactly one block for block transfers and is ignored
// otherwise. On any transport failure the connection is dropped and a
// wrapped ErrTransport is returned; there are no partial results and no
// retries.
func (c *Client) Request(fr register.Frame, payload []byte) (register.Frame, error) {
	f := register.Unpack(fr)

	if f.C0 == register.OpBlockXfer && len(payload) != register.BlockSize {
		return 0, fmt.Errorf("bus: block transfer payload must be %d bytes, got %d",
			register.BlockSize, len(payload))
	}

	if err := c.ensureConn(); err != nil {
		return 0, err
	}

	switch {
	case f.C0 == register.OpBlockXfer && f.C2 == register.XferRead:
		if err := c.writeFrame(fr); err != nil {
			return 0, c.fail("block read", err)
		}
		resp, err := c.readFrame()
		if err != nil {
			return 0, c.fail("block read", err)
		}
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return 0, c.fail("block read payload", err)
		}
		return resp, nil

	case f.C0 == register.OpBlockXfer && f.C2 == register.XferWrite:
		if err := c.writeFrame(fr); err != nil {
			return 0, c.fail("block write", err)
		}
		if _, err := c.conn.Write(payload); err != nil {
			return 0, c.fail("block write payload", err)
		}
		resp, err := c.readFrame()
		if err != nil {
			return 0, c.fail("block write", err)
		}
		return resp, nil

	case f.C0 == register.OpPowerOff:
		if err := c.writeFrame(fr); err != nil {
			return 0, c.fail("power off", err)
		}
		resp, err := c.readFrame()
		if err != nil {
			return 0, c.fail("power off", err)
		}
		// Power-off ends the session on the wire; the next request
		// re-establishes the connection.
		c.conn.Close()
		c.conn = nil
		return resp, nil

	default:
		if err := c.writeFrame(fr); err != nil {
			return 0, c.fail("request", err)
		}
		resp, err := c.readFrame()
		if err != nil {
			return 0, c.fail("request", err)
		}
		return resp, nil
	}
}

// Close drops the connection if one is open.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ---- connection and frame I/O ----

func (c *Client) ensureConn() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.cfg.Endpoint, c.cfg.DialTimeout)
	if err != nil {
		c.log.Error().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("bus connect failed")
		return fmt.Errorf("%w: connect %s: %v", ErrTransport, c.cfg.Endpoint, err)
	}
	c.conn = conn
	return nil
}

// Frames travel in network byte order.

func (c *Client) writeFrame(fr register.Frame) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(fr))
	_, err := c.conn.Write(buf[:])
	return err
}

func (c *Client) readFrame() (register.Frame, error) {
	var buf [8]byte
	if _, err := io.ReadFull(c.conn, buf[:]); err != nil {
		return 0, err
	}
	return register.Frame(binary.BigEndian.Uint64(buf[:])), nil
}

// fail logs a transport failure, drops the connection so it cannot be
// reused in a half-exchanged state, and wraps the error.
func (c *Client) fail(op string, err error) error {
	c.log.Error().Err(err).Str("op", op).Msg("bus transport failure")
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}
