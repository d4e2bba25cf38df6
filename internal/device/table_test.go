// internal/device/table_test.go
package device

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/busfs/internal/register"
)

// fakeBus acknowledges the power-on sequence for a configured set of
// devices. geometry[id] = {sectors, blocks}.
type fakeBus struct {
	geometry map[uint8][2]uint16

	breakOp uint8 // opcode to answer with a non-acknowledgement
	brk     bool
}

func (b *fakeBus) Request(fr register.Frame, payload []byte) (register.Frame, error) {
	f := register.Unpack(fr)

	if b.brk && f.C0 == b.breakOp {
		return register.NackOf(f), nil
	}

	switch f.C0 {
	case register.OpPowerOn:
		return register.AckOf(f), nil

	case register.OpDevProbe:
		var mask uint16
		for id := range b.geometry {
			mask |= 1 << id
		}
		f.D0 = mask
		return register.AckOf(f), nil

	case register.OpDevInit:
		geo, ok := b.geometry[f.C1]
		if !ok {
			return register.NackOf(f), nil
		}
		f.D0 = geo[0]
		f.D1 = geo[1]
		return register.AckOf(f), nil
	}

	return register.NackOf(f), nil
}

func powerOn(t *testing.T, geometry map[uint8][2]uint16) *Table {
	t.Helper()
	tab, err := PowerOn(&fakeBus{geometry: geometry}, zerolog.Nop())
	require.NoError(t, err)
	return tab
}

// ---- tests ----

func TestPowerOn_BuildsPresentDevices(t *testing.T) {
	tab := powerOn(t, map[uint8][2]uint16{
		0: {2, 4},
		5: {1, 8},
	})

	require.True(t, tab.Present(0))
	require.True(t, tab.Present(5))
	require.False(t, tab.Present(1))
	require.False(t, tab.Present(15))
}

func TestPowerOn_MalformedAckIsFatal(t *testing.T) {
	for _, op := range []uint8{register.OpPowerOn, register.OpDevProbe, register.OpDevInit} {
		bus := &fakeBus{
			geometry: map[uint8][2]uint16{0: {1, 2}},
			breakOp:  op,
			brk:      true,
		}
		_, err := PowerOn(bus, zerolog.Nop())
		require.ErrorIs(t, err, ErrProtocol, "opcode %d", op)
	}
}

func TestAllocate_FirstFitOrder(t *testing.T) {
	tab := powerOn(t, map[uint8][2]uint16{
		1: {2, 2},
		3: {1, 1},
	})

	want := []Addr{
		{Device: 1, Sector: 0, Block: 0},
		{Device: 1, Sector: 0, Block: 1},
		{Device: 1, Sector: 1, Block: 0},
		{Device: 1, Sector: 1, Block: 1},
		{Device: 3, Sector: 0, Block: 0},
	}

	for _, w := range want {
		got, err := tab.Allocate()
		require.NoError(t, err)
		require.Equal(t, w, got)

		used, err := tab.Used(got)
		require.NoError(t, err)
		require.True(t, used)
	}

	_, err := tab.Allocate()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestNextSetNext_Chain(t *testing.T) {
	tab := powerOn(t, map[uint8][2]uint16{0: {2, 2}})

	a, err := tab.Allocate()
	require.NoError(t, err)
	b, err := tab.Allocate()
	require.NoError(t, err)

	// fresh blocks are unlinked
	next, err := tab.Next(a)
	require.NoError(t, err)
	require.Nil(t, next)

	require.NoError(t, tab.SetNext(a, b))

	next, err = tab.Next(a)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, b, *next)
}

func TestNext_BadAddress(t *testing.T) {
	tab := powerOn(t, map[uint8][2]uint16{0: {2, 2}})

	_, err := tab.Next(Addr{Device: 9})
	require.ErrorIs(t, err, ErrBadAddress)

	_, err = tab.Next(Addr{Device: 0, Sector: 2, Block: 0})
	require.ErrorIs(t, err, ErrBadAddress)

	_, err = tab.Next(Addr{Device: 0, Sector: 0, Block: 2})
	require.ErrorIs(t, err, ErrBadAddress)
}

func TestRelease_DropsDevices(t *testing.T) {
	tab := powerOn(t, map[uint8][2]uint16{0: {1, 1}})
	tab.Release()
	require.False(t, tab.Present(0))
}
