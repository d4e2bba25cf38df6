// internal/register/frame.go

// Package register packs and unpacks the seven logical registers of a
// storage bus command into the 64-bit frame exchanged on the wire.
package register

// Frame is one 64-bit command or response word.
//
// Field layout, bit positions from the MSB:
//
//	B0[63:60] B1[59:56] C0[55:48] C1[47:40] C2[39:32] D0[31:16] D1[15:0]
type Frame uint64

// Fields holds the unpacked registers of a frame.
type Fields struct {
	B0 uint8  // 4 bits, acknowledgement
	B1 uint8  // 4 bits, acknowledgement
	C0 uint8  // opcode
	C1 uint8  // device id (block transfer / device init)
	C2 uint8  // transfer direction (block transfer)
	D0 uint16 // sector / probe mask / sector count
	D1 uint16 // block / block count
}

// Pack combines the fields into one frame. Values wider than their
// declared field are masked, never rejected.
func Pack(f Fields) Frame {
	return Frame(uint64(f.B0&0xf)<<60 |
		uint64(f.B1&0xf)<<56 |
		uint64(f.C0)<<48 |
		uint64(f.C1)<<40 |
		uint64(f.C2)<<32 |
		uint64(f.D0)<<16 |
		uint64(f.D1))
}

// Unpack extracts the fields of a frame. Total over all 64-bit inputs.
func Unpack(fr Frame) Fields {
	v := uint64(fr)
	return Fields{
		B0: uint8(v >> 60 & 0xf),
		B1: uint8(v >> 56 & 0xf),
		C0: uint8(v >> 48 & 0xff),
		C1: uint8(v >> 40 & 0xff),
		C2: uint8(v >> 32 & 0xff),
		D0: uint16(v >> 16 & 0xffff),
		D1: uint16(v & 0xffff),
	}
}

// Command builds a request frame for op with all other registers zero.
func Command(op uint8) Frame {
	return Pack(Fields{C0: op})
}

// BlockXfer builds a block transfer request frame.
func BlockXfer(dev uint8, dir uint8, sector, block uint16) Frame {
	return Pack(Fields{C0: OpBlockXfer, C1: dev, C2: dir, D0: sector, D1: block})
}

// Ack reports whether f is an acknowledgement of op: opcode echoed in C0
// and AckValue in both B0 and B1.
func Ack(f Fields, op uint8) bool {
	return f.B0 == AckValue && f.B1 == AckValue && f.C0 == op
}

// AckOf builds an acknowledgement response for req, echoing its opcode
// and geometry registers. Used by the device emulator.
func AckOf(req Fields) Frame {
	req.B0 = AckValue
	req.B1 = AckValue
	return Pack(req)
}

// NackOf builds a non-acknowledgement response for req: opcode echoed,
// both B fields zero.
func NackOf(req Fields) Frame {
	req.B0 = 0
	req.B1 = 0
	return Pack(req)
}
