// Package buffer implements a growable byte region with independent
// read and write cursors, the way original_source/code/buffer/buffer.h
// backs each connection's read and write sides.
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/bern-seu/webserver/internal/bufpool"
	"github.com/bern-seu/webserver/internal/constants"
)

// Buffer is a growable byte slice with a read cursor and a write cursor.
// Bytes in [0, readPos) are prependable space reclaimed by compaction;
// bytes in [readPos, writePos) are readable; bytes in [writePos, cap)
// are writable. The invariant 0 <= readPos <= writePos <= len(buf)
// holds after every method call.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New returns a Buffer with the given initial capacity.
func New(initialCap int) *Buffer {
	if initialCap <= 0 {
		initialCap = constants.InitialBufferCapacity
	}
	return &Buffer{buf: make([]byte, initialCap)}
}

// WritableBytes returns how many bytes can be written before growing.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writePos }

// ReadableBytes returns how many unread bytes are buffered.
func (b *Buffer) ReadableBytes() int { return b.writePos - b.readPos }

// PrependableBytes returns how much space at the front has been freed
// by prior Retrieve calls.
func (b *Buffer) PrependableBytes() int { return b.readPos }

// Peek returns the unread region without consuming it. The returned
// slice aliases the buffer and is invalidated by the next write.
func (b *Buffer) Peek() []byte { return b.buf[b.readPos:b.writePos] }

// BeginWrite returns the writable region for direct filling; callers
// must follow with HasWritten(n) for n bytes actually written.
func (b *Buffer) BeginWrite() []byte { return b.buf[b.writePos:] }

// EnsureWritable grows or compacts the buffer so at least len bytes can
// be written without reallocating on the next write.
func (b *Buffer) EnsureWritable(length int) {
	if b.WritableBytes() >= length {
		return
	}
	b.makeSpace(length)
}

// HasWritten advances the write cursor after a direct fill via
// BeginWrite.
func (b *Buffer) HasWritten(length int) {
	b.writePos += length
}

// Retrieve consumes length bytes from the front of the readable region.
func (b *Buffer) Retrieve(length int) {
	if length >= b.ReadableBytes() {
		b.RetrieveAll()
		return
	}
	b.readPos += length
}

// RetrieveUntil consumes bytes up to and including the byte right
// before end, where end is an absolute index into buf (PrependableBytes
// plus an offset into the region returned by Peek). An end outside the
// readable region is ignored.
func (b *Buffer) RetrieveUntil(end int) {
	if end < b.readPos || end > b.writePos {
		return
	}
	b.Retrieve(end - b.readPos)
}

// RetrieveAll resets both cursors to the start, reclaiming the whole
// backing array as prependable/writable space.
func (b *Buffer) RetrieveAll() {
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllToString consumes the entire readable region and returns
// it as a string.
func (b *Buffer) RetrieveAllToString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// RetrieveToString consumes length bytes from the front and returns
// them as a string.
func (b *Buffer) RetrieveToString(length int) string {
	if length > b.ReadableBytes() {
		length = b.ReadableBytes()
	}
	s := string(b.buf[b.readPos : b.readPos+length])
	b.Retrieve(length)
	return s
}

// Append copies data onto the end of the readable region, growing the
// buffer if necessary.
func (b *Buffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	b.EnsureWritable(len(data))
	copy(b.buf[b.writePos:], data)
	b.HasWritten(len(data))
}

// AppendString is Append for string data.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// makeSpace compacts already-retrieved prependable space first, and
// only grows the backing array when compaction alone is not enough.
func (b *Buffer) makeSpace(length int) {
	if b.WritableBytes()+b.PrependableBytes() < length {
		grown := make([]byte, b.writePos+length)
		copy(grown, b.buf[b.readPos:b.writePos])
		b.buf = grown
		b.writePos -= b.readPos
		b.readPos = 0
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// ReadFd fills the buffer from fd using readv with a stack-sized
// scratch segment appended as a second iovec, so a single read(2) can
// absorb more than the buffer currently has room for without an extra
// syscall (original_source/code/http/httpconn.cpp's HttpConn::read).
// It returns the number of bytes read, or the raw readv error; when the
// fd is non-blocking and has no data ready that error is EAGAIN, which
// errs.IsTransient recognises.
func (b *Buffer) ReadFd(fd int) (int, error) {
	scratch := bufpool.Get(constants.ReadScratchSize)
	defer bufpool.Put(scratch)
	writable := b.WritableBytes()

	iov0 := unix.Iovec{}
	iov0.SetLen(writable)
	if writable > 0 {
		iov0.Base = &b.buf[b.writePos]
	}
	iov1 := unix.Iovec{Base: &scratch[0]}
	iov1.SetLen(len(scratch))

	var vec []unix.Iovec
	if writable > 0 {
		vec = []unix.Iovec{iov0, iov1}
	} else {
		vec = []unix.Iovec{iov1}
	}

	n, err := unix.Readv(fd, vec)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("buffer: readv returned negative count")
	}
	if n <= writable {
		b.HasWritten(n)
		return n, nil
	}
	b.HasWritten(writable)
	b.Append(scratch[:n-writable])
	return n, nil
}

// WriteFd drains the readable region to fd via write(2), returning the
// number of bytes actually written. Callers are responsible for
// retrying on partial writes; WriteFd does not loop.
func (b *Buffer) WriteFd(fd int) (int, error) {
	if b.ReadableBytes() == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, b.Peek())
	if err != nil {
		return 0, err
	}
	b.Retrieve(n)
	return n, nil
}
