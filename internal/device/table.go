// internal/device/table.go

// Package device models the storage devices behind the bus: per-device
// sector×block descriptor grids, block occupancy and chain links, and
// first-fit block allocation.
package device

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"

	"github.com/tamzrod/busfs/internal/register"
)

// ErrProtocol is a malformed or mismatched bus acknowledgement.
var ErrProtocol = errors.New("device: protocol failure")

// ErrExhausted means no free block is left on any device.
var ErrExhausted = errors.New("device: storage exhausted")

// ErrBadAddress is a block address that does not exist on the bus.
var ErrBadAddress = errors.New("device: bad block address")

// Requester sends one command frame over the bus and returns the
// response frame. Satisfied by bus.Client.
type Requester interface {
	Request(fr register.Frame, payload []byte) (register.Frame, error)
}

// Addr identifies one block on the bus.
type Addr struct {
	Device uint8
	Sector uint16
	Block  uint16
}

func (a Addr) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Device, a.Sector, a.Block)
}

// Device is one probed storage device: its geometry, the successor
// pointer of every block, and an occupancy bitset over the grid.
// Allocated blocks are never released.
type Device struct {
	ID      uint8
	Sectors uint16
	Blocks  uint16

	next []*Addr        // flat sector-major grid of successor links
	used *bitset.BitSet // occupancy over the same grid
}

func (d *Device) index(sector, block uint16) (uint, error) {
	if sector >= d.Sectors || block >= d.Blocks {
		return 0, fmt.Errorf("%w: %d/%d/%d", ErrBadAddress, d.ID, sector, block)
	}
	return uint(sector)*uint(d.Blocks) + uint(block), nil
}

// Table holds the up to 16 device slots of the bus. Absent slots are nil.
type Table struct {
	devices [register.MaxDevices]*Device
	log     zerolog.Logger
}

// PowerOn powers on the controller, probes the device slots and
// initializes every present device, building the descriptor grids.
// Any malformed acknowledgement is fatal.
func PowerOn(bus Requester, log zerolog.Logger) (*Table, error) {
	resp, err := bus.Request(register.Command(register.OpPowerOn), nil)
	if err != nil {
		return nil, fmt.Errorf("power on: %w", err)
	}
	if f := register.Unpack(resp); !register.Ack(f, register.OpPowerOn) {
		return nil, fmt.Errorf("%w: power-on not acknowledged", ErrProtocol)
	}

	resp, err = bus.Request(register.Command(register.OpDevProbe), nil)
	if err != nil {
		return nil, fmt.Errorf("device probe: %w", err)
	}
	probe := register.Unpack(resp)
	if !register.Ack(probe, register.OpDevProbe) {
		return nil, fmt.Errorf("%w: device probe not acknowledged", ErrProtocol)
	}

	t := &Table{log: log}

	// Probe response D0: bit i set means device slot i is populated.
	mask := bitset.From([]uint64{uint64(probe.D0)})
	for id, ok := mask.NextSet(0); ok && id < register.MaxDevices; id, ok = mask.NextSet(id + 1) {
		dev, err := initDevice(bus, uint8(id))
		if err != nil {
			return nil, err
		}
		t.devices[id] = dev

		log.Info().
			Uint8("device", dev.ID).
			Uint16("sectors", dev.Sectors).
			Uint16("blocks", dev.Blocks).
			Msg("device initialized")
	}

	return t, nil
}

func initDevice(bus Requester, id uint8) (*Device, error) {
	fr := register.Pack(register.Fields{C0: register.OpDevInit, C1: id})
	resp, err := bus.Request(fr, nil)
	if err != nil {
		return nil, fmt.Errorf("device %d init: %w", id, err)
	}
	f := register.Unpack(resp)
	if !register.Ack(f, register.OpDevInit) {
		return nil, fmt.Errorf("%w: device %d init not acknowledged", ErrProtocol, id)
	}

	d := &Device{
		ID:      id,
		Sectors: f.D0,
		Blocks:  f.D1,
		next:    make([]*Addr, uint(f.D0)*uint(f.D1)),
		used:    bitset.New(uint(f.D0) * uint(f.D1)),
	}
	return d, nil
}

// Present reports whether device slot id holds an initialized device.
func (t *Table) Present(id uint8) bool {
	return int(id) < len(t.devices) && t.devices[id] != nil
}

func (t *Table) device(id uint8) (*Device, error) {
	if !t.Present(id) {
		return nil, fmt.Errorf("%w: no device %d", ErrBadAddress, id)
	}
	return t.devices[id], nil
}

// Allocate returns the first unused block, scanning devices in id
// order, then sectors, then blocks, and marks it used. First-fit:
// blocks are fixed-size and never freed, so fragmentation is not a
// concern.
func (t *Table) Allocate() (Addr, error) {
	for id := range t.devices {
		d := t.devices[id]
		if d == nil {
			continue
		}
		i, ok := d.used.NextClear(0)
		if !ok || i >= uint(d.Sectors)*uint(d.Blocks) {
			continue
		}
		d.used.Set(i)
		addr := Addr{
			Device: d.ID,
			Sector: uint16(i / uint(d.Blocks)),
			Block:  uint16(i % uint(d.Blocks)),
		}
		return addr, nil
	}
	return Addr{}, ErrExhausted
}

// Used reports whether the block at addr has been allocated.
func (t *Table) Used(addr Addr) (bool, error) {
	d, err := t.device(addr.Device)
	if err != nil {
		return false, err
	}
	i, err := d.index(addr.Sector, addr.Block)
	if err != nil {
		return false, err
	}
	return d.used.Test(i), nil
}

// Next returns the successor of the block at addr, or nil when the
// block is the end of its chain.
func (t *Table) Next(addr Addr) (*Addr, error) {
	d, err := t.device(addr.Device)
	if err != nil {
		return nil, err
	}
	i, err := d.index(addr.Sector, addr.Block)
	if err != nil {
		return nil, err
	}
	return d.next[i], nil
}

// SetNext links the block at addr to next.
func (t *Table) SetNext(addr Addr, next Addr) error {
	d, err := t.device(addr.Device)
	if err != nil {
		return err
	}
	i, err := d.index(addr.Sector, addr.Block)
	if err != nil {
		return err
	}
	n := next
	d.next[i] = &n
	return nil
}

// Release drops every device's descriptor grid. Called at shutdown.
func (t *Table) Release() {
	for id := range t.devices {
		t.devices[id] = nil
	}
}
