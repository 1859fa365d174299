// Package connection holds per-connection state: the read/write
// buffers, the request parser, the response builder, and the
// writev-ready iovec pair, grounded on
// original_source/code/http/httpconn.{h,cpp} and spec.md §4.7's
// corrected process()/write_out() semantics.
package connection

import (
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/bern-seu/webserver/internal/buffer"
	"github.com/bern-seu/webserver/internal/constants"
	"github.com/bern-seu/webserver/internal/errs"
	"github.com/bern-seu/webserver/internal/httpparse"
	"github.com/bern-seu/webserver/internal/httpresp"
)

// UserCount is the process-wide count of initialized, not-yet-closed
// connections, matching HttpConn::userCount.
var UserCount int64

// segment is one entry of the writev scatter/gather pair.
type segment struct {
	base []byte
	len  int
}

// Conn is one accepted client connection.
type Conn struct {
	fd        int
	peerAddr  net.Addr
	closed    bool
	isEdge    bool
	srcDir    string
	readBuf   *buffer.Buffer
	writeBuf  *buffer.Buffer
	parser    *httpparse.Parser
	response  *httpresp.Response
	iov       [2]segment
	iovCount  int
}

// New creates an unattached Conn. Call Init to bind it to an accepted
// fd before use.
func New(srcDir string, verifier httpparse.AuthVerifier, isEdge bool) *Conn {
	return &Conn{
		srcDir:   srcDir,
		isEdge:   isEdge,
		readBuf:  buffer.New(constants.InitialBufferCapacity),
		writeBuf: buffer.New(constants.InitialBufferCapacity),
		parser:   httpparse.New(verifier),
		response: httpresp.New(),
		closed:   true,
	}
}

// Init attaches Conn to a freshly accepted fd, matching HttpConn::init:
// both buffers are cleared and userCount is incremented.
func (c *Conn) Init(fd int, peerAddr net.Addr) {
	atomic.AddInt64(&UserCount, 1)
	c.fd = fd
	c.peerAddr = peerAddr
	c.readBuf.RetrieveAll()
	c.writeBuf.RetrieveAll()
	c.closed = false
}

// Fd returns the connection's file descriptor.
func (c *Conn) Fd() int { return c.fd }

// PeerAddr returns the connection's remote address.
func (c *Conn) PeerAddr() net.Addr { return c.peerAddr }

// Closed reports whether Close has already run for this connection.
func (c *Conn) Closed() bool { return c.closed }

// Close is idempotent: it unmaps any response file, closes fd, and
// decrements UserCount exactly once.
func (c *Conn) Close() {
	c.response.UnmapFile()
	if c.closed {
		return
	}
	c.closed = true
	atomic.AddInt64(&UserCount, -1)
	unix.Close(c.fd)
}

// ReadInto drains the socket into the read buffer. Under edge-triggered
// readiness it loops until the kernel returns EAGAIN or an error;
// otherwise it performs a single read. The last chunk's byte count is
// returned; callers inspect err via errs.IsTransient.
func (c *Conn) ReadInto() (int, error) {
	var n int
	var err error
	for {
		n, err = c.readBuf.ReadFd(c.fd)
		if n <= 0 || err != nil {
			break
		}
		if !c.isEdge {
			break
		}
	}
	if err != nil {
		return n, errs.Wrap("read", err)
	}
	return n, nil
}

// Process resets the parser, drives it over the read buffer, and on a
// complete request builds the response and scatter/gather segments.
// It returns false only when more data is needed (empty read buffer or
// parser incomplete). A malformed request builds a 400 response, and an
// oversized body a 413 response; both return true so the reactor moves
// to writing it.
func (c *Conn) Process() bool {
	c.parser.Init()
	if c.readBuf.ReadableBytes() <= 0 {
		return false
	}

	ok, err := c.parser.Parse(c.readBuf)
	switch {
	case err == httpparse.ErrBodyTooLarge:
		c.response.Init(c.srcDir, c.parser.Request().Path, false, 413)
	case !ok:
		c.response.Init(c.srcDir, c.parser.Request().Path, false, 400)
	case c.parser.State() == httpparse.StateFinish:
		req := c.parser.Request()
		c.response.Init(c.srcDir, req.Path, req.IsKeepAlive(), 200)
	default:
		return false
	}

	c.response.MakeResponse(c.writeBuf)

	c.iov[0] = segment{base: c.writeBuf.Peek(), len: c.writeBuf.ReadableBytes()}
	c.iovCount = 1
	if c.response.FileLen() > 0 && c.response.File() != nil {
		c.iov[1] = segment{base: c.response.File(), len: int(c.response.FileLen())}
		c.iovCount = 2
	} else {
		c.iov[1] = segment{}
	}
	return true
}

// KeepAlive reports whether the request just processed asked to keep
// the connection open.
func (c *Conn) KeepAlive() bool {
	return c.parser.State() == httpparse.StateFinish && c.parser.Request().IsKeepAlive()
}

// StatusCode reports the status of the response built by the last
// successful Process call.
func (c *Conn) StatusCode() int {
	return c.response.Code()
}

// ResponseBytes reports the total size of the response just built,
// headers plus any mapped file body.
func (c *Conn) ResponseBytes() uint64 {
	return uint64(c.iov[0].len) + uint64(c.iov[1].len)
}

// BytesToWrite returns the total bytes remaining across both segments.
func (c *Conn) BytesToWrite() int {
	return c.iov[0].len + c.iov[1].len
}

// WriteOut issues writev and adjusts both segments per the partial-
// progress bookkeeping in spec.md §4.7 / httpconn.cpp's write(). The
// loop continues while edge-triggered or more than
// constants.WritevBatchThreshold bytes remain, to amortize syscalls.
func (c *Conn) WriteOut() (int, error) {
	var total int
	for {
		if c.BytesToWrite() == 0 {
			return total, nil
		}
		iovs := c.buildIovecs()
		n, err := unix.Writev(c.fd, iovs)
		if err != nil {
			return total, errs.Wrap("write", err)
		}
		if n <= 0 {
			return total, nil
		}
		total += n
		c.advance(n)
		if c.BytesToWrite() == 0 {
			return total, nil
		}
		if !c.isEdge && c.BytesToWrite() <= constants.WritevBatchThreshold {
			return total, nil
		}
	}
}

func (c *Conn) buildIovecs() [][]byte {
	out := make([][]byte, 0, 2)
	if c.iov[0].len > 0 {
		out = append(out, c.iov[0].base[len(c.iov[0].base)-c.iov[0].len:])
	}
	if c.iovCount == 2 && c.iov[1].len > 0 {
		out = append(out, c.iov[1].base[len(c.iov[1].base)-c.iov[1].len:])
	}
	if len(out) == 0 {
		out = append(out, nil)
	}
	return out
}

func (c *Conn) advance(n int) {
	if n > c.iov[0].len {
		consumedFromFile := n - c.iov[0].len
		if c.iov[0].len > 0 {
			c.writeBuf.RetrieveAll()
			c.iov[0].len = 0
		}
		c.iov[1].len -= consumedFromFile
		if c.iov[1].len < 0 {
			c.iov[1].len = 0
		}
	} else {
		c.iov[0].len -= n
		c.writeBuf.Retrieve(n)
	}
}
