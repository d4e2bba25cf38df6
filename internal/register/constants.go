// internal/register/constants.go
package register

// Wire protocol constants.
// These values define the protocol and MUST NOT be configurable.

// ---- GEOMETRY ----

// BlockSize is the fixed size of one storage block in bytes.
// It is also the payload size of every block transfer on the bus.
const BlockSize = 256

// MaxDevices is the number of device slots on the bus.
// The probe response reports presence as a 16-bit mask in D0.
const MaxDevices = 16

// ---- OPCODES (carried in C0) ----

const (
	// OpPowerOn powers on the storage controller.
	OpPowerOn = 0

	// OpDevProbe asks which device slots are populated.
	OpDevProbe = 1

	// OpDevInit initializes one device (C1 = device id) and reports its
	// geometry: sectors in D0, blocks per sector in D1.
	OpDevInit = 2

	// OpBlockXfer moves one block between host and device.
	// C1 = device id, C2 = direction, D0 = sector, D1 = block.
	OpBlockXfer = 3

	// OpPowerOff powers off the controller and ends the session.
	OpPowerOff = 4
)

// ---- TRANSFER DIRECTIONS (carried in C2, block transfer only) ----

const (
	XferRead  = 0
	XferWrite = 1
)

// ---- ACKNOWLEDGEMENT ----

// AckValue is what B0 and B1 carry in a successful response: all ones
// in a 4-bit field. A response that echoes the request opcode in C0 and
// carries AckValue in both B fields is an acknowledgement.
const AckValue = 0xF
