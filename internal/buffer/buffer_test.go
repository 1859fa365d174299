package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReadRoundTrip(t *testing.T) {
	b := New(4)
	b.AppendString("hello world")
	require.Equal(t, "hello world", string(b.Peek()))
	assert.Equal(t, "hello", b.RetrieveToString(5))
	assert.Equal(t, " world", string(b.Peek()))
}

func TestRetrieveAllResetsCursors(t *testing.T) {
	b := New(16)
	b.AppendString("abc")
	b.RetrieveAll()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, 0, b.PrependableBytes())
}

func TestEnsureWritableGrowsWithoutLosingData(t *testing.T) {
	b := New(4)
	b.AppendString("ab")
	b.EnsureWritable(1000)
	assert.GreaterOrEqual(t, b.WritableBytes(), 1000)
	assert.Equal(t, "ab", string(b.Peek()))
}

func TestMakeSpaceCompactsBeforeGrowing(t *testing.T) {
	b := New(16)
	b.AppendString("0123456789abcdef")
	b.Retrieve(14)
	// 14 bytes retrieved frees prependable space; appending a few more
	// bytes should compact rather than reallocate past what is needed.
	b.AppendString("XYZ")
	assert.Equal(t, "efXYZ", string(b.Peek()))
}

func TestRetrieveUntilAbsoluteIndex(t *testing.T) {
	b := New(16)
	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n")
	readable := b.Peek()
	idx := -1
	for i := 0; i+1 < len(readable); i++ {
		if readable[i] == '\r' && readable[i+1] == '\n' {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "expected to find CRLF in buffered request line")

	end := b.PrependableBytes() + idx + 2
	b.RetrieveUntil(end)
	assert.Equal(t, "Host: x\r\n", string(b.Peek()))
}

func TestInvariantHoldsAcrossOperations(t *testing.T) {
	b := New(8)
	ops := []func(){
		func() { b.AppendString("short") },
		func() { b.Retrieve(2) },
		func() { b.AppendString("a longer string that forces growth") },
		func() { b.Retrieve(b.ReadableBytes()) },
		func() { b.AppendString("x") },
	}
	for _, op := range ops {
		op()
		require.True(t, b.readPos >= 0 && b.readPos <= b.writePos && b.writePos <= len(b.buf),
			"invariant violated: readPos=%d writePos=%d cap=%d", b.readPos, b.writePos, len(b.buf))
	}
}

func TestRetrieveBeyondReadableDrainsAll(t *testing.T) {
	b := New(8)
	b.AppendString("abc")
	b.Retrieve(100)
	assert.Equal(t, 0, b.ReadableBytes())
}
