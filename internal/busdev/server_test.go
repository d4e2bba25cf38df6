// internal/busdev/server_test.go
package busdev

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/busfs/internal/register"
)

func start(t *testing.T, geometries []Geometry) string {
	t.Helper()

	srv, err := New(geometries, zerolog.Nop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ln.Addr().String()
}

// raw client helpers: the emulator is tested from the wire side

func dial(t *testing.T, endpoint string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, fr register.Frame) {
	t.Helper()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(fr))
	_, err := conn.Write(buf[:])
	require.NoError(t, err)
}

func recv(t *testing.T, conn net.Conn) register.Fields {
	t.Helper()
	var buf [8]byte
	_, err := io.ReadFull(conn, buf[:])
	require.NoError(t, err)
	return register.Unpack(register.Frame(binary.BigEndian.Uint64(buf[:])))
}

// ---- tests ----

func TestNew_ValidatesGeometry(t *testing.T) {
	_, err := New(nil, zerolog.Nop())
	require.Error(t, err)

	_, err = New(make([]Geometry, 17), zerolog.Nop())
	require.Error(t, err)

	_, err = New([]Geometry{{Sectors: 0, Blocks: 1}}, zerolog.Nop())
	require.Error(t, err)
}

func TestProbeAndInit(t *testing.T) {
	endpoint := start(t, []Geometry{
		{Sectors: 3, Blocks: 5},
		{Sectors: 1, Blocks: 1},
	})
	conn := dial(t, endpoint)

	send(t, conn, register.Command(register.OpPowerOn))
	require.True(t, register.Ack(recv(t, conn), register.OpPowerOn))

	send(t, conn, register.Command(register.OpDevProbe))
	probe := recv(t, conn)
	require.True(t, register.Ack(probe, register.OpDevProbe))
	require.Equal(t, uint16(0b11), probe.D0)

	send(t, conn, register.Pack(register.Fields{C0: register.OpDevInit, C1: 0}))
	ini := recv(t, conn)
	require.True(t, register.Ack(ini, register.OpDevInit))
	require.Equal(t, uint16(3), ini.D0)
	require.Equal(t, uint16(5), ini.D1)

	// device slot 7 is empty
	send(t, conn, register.Pack(register.Fields{C0: register.OpDevInit, C1: 7}))
	require.False(t, register.Ack(recv(t, conn), register.OpDevInit))
}

func TestUnknownOpcodeIsNotAcknowledged(t *testing.T) {
	endpoint := start(t, []Geometry{{Sectors: 1, Blocks: 1}})
	conn := dial(t, endpoint)

	send(t, conn, register.Pack(register.Fields{C0: 0x7E}))
	resp := recv(t, conn)
	require.False(t, register.Ack(resp, 0x7E))
	require.Equal(t, uint8(0x7E), resp.C0, "opcode is echoed even on a non-ack")
}

func TestBlockContentsSurviveReconnect(t *testing.T) {
	endpoint := start(t, []Geometry{{Sectors: 1, Blocks: 2}})

	payload := make([]byte, register.BlockSize)
	for i := range payload {
		payload[i] = byte(255 - i%256)
	}

	// session one: write, power off
	conn := dial(t, endpoint)
	send(t, conn, register.BlockXfer(0, register.XferWrite, 0, 1))
	_, err := conn.Write(payload)
	require.NoError(t, err)
	require.True(t, register.Ack(recv(t, conn), register.OpBlockXfer))

	send(t, conn, register.Command(register.OpPowerOff))
	require.True(t, register.Ack(recv(t, conn), register.OpPowerOff))

	// session two: the block is still there
	conn2 := dial(t, endpoint)
	send(t, conn2, register.BlockXfer(0, register.XferRead, 0, 1))
	require.True(t, register.Ack(recv(t, conn2), register.OpBlockXfer))

	got := make([]byte, register.BlockSize)
	_, err = io.ReadFull(conn2, got)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestBlockXfer_BadGeometryKeepsStreamInSync(t *testing.T) {
	endpoint := start(t, []Geometry{{Sectors: 1, Blocks: 1}})
	conn := dial(t, endpoint)

	// write to a sector that does not exist: payload is consumed, non-ack returned
	send(t, conn, register.BlockXfer(0, register.XferWrite, 9, 0))
	_, err := conn.Write(make([]byte, register.BlockSize))
	require.NoError(t, err)
	require.False(t, register.Ack(recv(t, conn), register.OpBlockXfer))

	// read from a block that does not exist: non-ack plus a zero payload
	send(t, conn, register.BlockXfer(0, register.XferRead, 0, 9))
	require.False(t, register.Ack(recv(t, conn), register.OpBlockXfer))
	zero := make([]byte, register.BlockSize)
	_, err = io.ReadFull(conn, zero)
	require.NoError(t, err)
	require.Equal(t, make([]byte, register.BlockSize), zero)

	// the session is still usable
	send(t, conn, register.Command(register.OpPowerOn))
	require.True(t, register.Ack(recv(t, conn), register.OpPowerOn))
}
