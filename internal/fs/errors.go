// internal/fs/errors.go
package fs

import "errors"

// Failure kinds of the file surface. Every operation returns exactly
// one of these (possibly wrapped) or a transport/device error from the
// layer below; there are no partial results and no internal retries.
var (
	// ErrBadHandle is a handle that is out of range or not open.
	ErrBadHandle = errors.New("fs: invalid file handle")

	// ErrAlreadyOpen is an open of a path that is currently open.
	ErrAlreadyOpen = errors.New("fs: file already open")

	// ErrBrokenChain means a block chain ended before the file's
	// recorded size was covered. Fatal addressing inconsistency.
	ErrBrokenChain = errors.New("fs: broken block chain")

	// ErrProtocol is a malformed or mismatched bus acknowledgement.
	ErrProtocol = errors.New("fs: protocol failure")

	// ErrOutOfRange is a seek offset outside [0, size].
	ErrOutOfRange = errors.New("fs: offset out of range")

	// ErrFileTableFull means no file slot is left.
	ErrFileTableFull = errors.New("fs: file table full")
)
