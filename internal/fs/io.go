// internal/fs/io.go
package fs

import (
	"fmt"

	"github.com/tamzrod/busfs/internal/device"
	"github.com/tamzrod/busfs/internal/register"
)

// locate walks the file's block chain and returns the address of the
// block covering byte offset off. The walk is linear in off/256; there
// is no index, by design.
func (s *Session) locate(f *file, off int64) (device.Addr, error) {
	cur := f.first
	if cur == nil {
		s.log.Error().Int("handle", f.handle).Int64("offset", off).Msg("chain walk: no chain")
		return device.Addr{}, fmt.Errorf("%w: handle %d has no blocks", ErrBrokenChain, f.handle)
	}

	for covered := int64(register.BlockSize); covered <= off; covered += register.BlockSize {
		next, err := s.devices.Next(*cur)
		if err != nil {
			return device.Addr{}, err
		}
		if next == nil {
			// the chain must cover every offset below the recorded size
			s.log.Error().
				Int("handle", f.handle).
				Int64("offset", off).
				Str("block", cur.String()).
				Msg("chain walk: chain ends early")
			return device.Addr{}, fmt.Errorf("%w: handle %d offset %d", ErrBrokenChain, f.handle, off)
		}
		cur = next
	}

	return *cur, nil
}

// grow appends a freshly allocated block to the file's chain. Called
// exactly when a write advances the end of file onto a block boundary.
func (s *Session) grow(f *file) error {
	last, err := s.locate(f, f.size-1)
	if err != nil {
		return err
	}

	next, err := s.devices.Allocate()
	if err != nil {
		s.log.Error().Err(err).Int("handle", f.handle).Msg("chain growth failed")
		return err
	}
	if err := s.devices.SetNext(last, next); err != nil {
		return err
	}

	s.log.Debug().
		Int("handle", f.handle).
		Str("block", next.String()).
		Msg("block appended to chain")
	return nil
}

// fetchBlock fills dst with the contents of the block at addr, from the
// cache on a hit or from the bus on a miss. Plain reads never populate
// the cache; only writes do.
func (s *Session) fetchBlock(addr device.Addr, dst *[register.BlockSize]byte) error {
	if data := s.cache.Lookup(addr.Device, addr.Sector, addr.Block); data != nil {
		copy(dst[:], data)
		return nil
	}

	fr := register.BlockXfer(addr.Device, register.XferRead, addr.Sector, addr.Block)
	resp, err := s.bus.Request(fr, dst[:])
	if err != nil {
		s.log.Error().Err(err).Str("block", addr.String()).Msg("block read failed")
		return err
	}
	if f := register.Unpack(resp); !register.Ack(f, register.OpBlockXfer) {
		s.log.Error().Str("block", addr.String()).Msg("block read not acknowledged")
		return fmt.Errorf("%w: read of block %s not acknowledged", ErrProtocol, addr)
	}
	return nil
}

// storeBlock sends one full block to the bus and mirrors it into the
// cache (write-through).
func (s *Session) storeBlock(addr device.Addr, blk *[register.BlockSize]byte) error {
	fr := register.BlockXfer(addr.Device, register.XferWrite, addr.Sector, addr.Block)
	resp, err := s.bus.Request(fr, blk[:])
	if err != nil {
		s.log.Error().Err(err).Str("block", addr.String()).Msg("block write failed")
		return err
	}
	if f := register.Unpack(resp); !register.Ack(f, register.OpBlockXfer) {
		s.log.Error().Str("block", addr.String()).Msg("block write not acknowledged")
		return fmt.Errorf("%w: write of block %s not acknowledged", ErrProtocol, addr)
	}

	s.cache.Insert(addr.Device, addr.Sector, addr.Block, blk[:])
	return nil
}

// Read reads up to len(p) bytes from the file's current position and
// advances it. The count is clamped at end of file; reading an empty
// file returns 0. On failure nothing is returned: 0 and the error.
func (s *Session) Read(fh int, p []byte) (int, error) {
	f, err := s.lookup(fh)
	if err != nil {
		return 0, err
	}

	if f.size == 0 {
		return 0, nil
	}

	n := int64(len(p))
	if f.pos+n > f.size {
		n = f.size - f.pos
	}

	var done int64
	for done < n {
		posInBlock := f.pos % register.BlockSize

		addr, err := s.locate(f, f.pos)
		if err != nil {
			return 0, err
		}

		var blk [register.BlockSize]byte
		if err := s.fetchBlock(addr, &blk); err != nil {
			return 0, err
		}

		// whole block, or the prefix/suffix the request touches
		take := int64(register.BlockSize) - posInBlock
		if take > n-done {
			take = n - done
		}
		copy(p[done:done+take], blk[posInBlock:posInBlock+take])

		f.pos += take
		done += take
	}

	s.log.Debug().
		Int("handle", fh).
		Int64("bytes", n).
		Int64("pos", f.pos).
		Msg("read")
	return int(n), nil
}

// Write writes len(p) bytes at the file's current position, advancing
// it and extending the file as needed. Every touched block is re-read
// first so bytes outside the written range survive, then sent to the
// bus in full and mirrored into the cache. On failure nothing is
// reported written: 0 and the error.
func (s *Session) Write(fh int, p []byte) (int, error) {
	f, err := s.lookup(fh)
	if err != nil {
		return 0, err
	}

	if len(p) == 0 {
		return 0, nil
	}

	if f.first == nil {
		addr, err := s.devices.Allocate()
		if err != nil {
			s.log.Error().Err(err).Int("handle", fh).Msg("first block allocation failed")
			return 0, err
		}
		f.first = &addr
		s.log.Debug().Int("handle", fh).Str("block", addr.String()).Msg("first block allocated")
	}

	n := int64(len(p))
	var done int64
	for done < n {
		posInBlock := f.pos % register.BlockSize

		addr, err := s.locate(f, f.pos)
		if err != nil {
			return 0, err
		}

		// Preserve the block's existing bytes with a seek-then-read
		// round trip through the public path, then restore position.
		var blk [register.BlockSize]byte
		mark := f.pos
		if _, err := s.Seek(fh, mark-posInBlock); err != nil {
			return 0, err
		}
		if _, err := s.Read(fh, blk[:]); err != nil {
			return 0, err
		}
		f.pos = mark

		take := int64(register.BlockSize) - posInBlock
		if take > n-done {
			take = n - done
		}
		copy(blk[posInBlock:], p[done:done+take])

		if err := s.storeBlock(addr, &blk); err != nil {
			return 0, err
		}

		f.pos += take
		done += take

		if f.pos >= f.size {
			f.size = f.pos
			// Landing the end of file exactly on a block boundary
			// means the next write needs somewhere to go.
			if f.pos%register.BlockSize == 0 {
				if err := s.grow(f); err != nil {
					return 0, err
				}
			}
		}
	}

	s.log.Debug().
		Int("handle", fh).
		Int64("bytes", n).
		Int64("size", f.size).
		Msg("write")
	return int(n), nil
}

// Seek sets the file's position to off and returns it. Offsets outside
// [0, size] fail.
func (s *Session) Seek(fh int, off int64) (int64, error) {
	f, err := s.lookup(fh)
	if err != nil {
		return -1, err
	}

	if off < 0 || off > f.size {
		s.log.Error().
			Int("handle", fh).
			Int64("offset", off).
			Int64("size", f.size).
			Msg("seek out of range")
		return -1, fmt.Errorf("%w: seek to %d in file of %d bytes", ErrOutOfRange, off, f.size)
	}

	f.pos = off
	return f.pos, nil
}
