package guard

import (
	stderrors "errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/native-bridge/errors"
)

func requireCorruption(t *testing.T, err error, contains string) {
	t.Helper()
	require.Error(t, err)
	var be *errors.Error
	require.True(t, stderrors.As(err, &be), "unexpected error type %T", err)
	require.Equal(t, errors.KindCorruption, be.Kind)
	require.True(t, be.Fatal(), "corruption must be an integrity error")
	require.Contains(t, be.Error(), contains)
}

func TestCopy_RoundTripWithinBounds(t *testing.T) {
	orig := make([]byte, 16)
	c := New(orig)

	p := c.Bytes()
	require.Len(t, p, 16)
	for i := range p {
		p[i] = byte(i + 1)
	}

	require.NoError(t, c.Check("ReleaseByteArrayElements", true))
	c.Commit()
	require.Equal(t, byte(16), orig[15])
	c.Free()
}

func TestCopy_UnmodifiedPassesStrictCheck(t *testing.T) {
	c := New([]byte("immutable"))
	require.NoError(t, c.Check("ReleaseStringUTFChars", false))
}

func TestCopy_WriteOnePastEnd(t *testing.T) {
	c := New(make([]byte, 16))
	p := c.Bytes()
	p = p[:17]
	p[16] = 0x42

	requireCorruption(t, c.Check("ReleaseByteArrayElements", true), "after buffer")
}

func TestCopy_WriteOneBeforeStart(t *testing.T) {
	c := New(make([]byte, 16))
	p := c.Bytes()
	before := (*byte)(unsafe.Add(unsafe.Pointer(&p[0]), -1))
	*before = 0x42

	requireCorruption(t, c.Check("ReleaseByteArrayElements", true), "before buffer")
}

func TestCopy_MutationWithoutIntent(t *testing.T) {
	c := New([]byte{1, 2, 3, 4})
	c.Bytes()[2] = 9

	requireCorruption(t, c.Check("ReleaseByteArrayElements", false), "modified")
	require.NoError(t, c.Check("ReleaseByteArrayElements", true))
}

func TestCopy_HeaderOverwrite(t *testing.T) {
	c := New(make([]byte, 8))
	p := c.Bytes()
	header := (*uint32)(unsafe.Add(unsafe.Pointer(&p[0]), -PrefixLen))
	*header = 0

	requireCorruption(t, c.Check("ReleaseIntArrayElements", true), "magic")
	require.Nil(t, c.Bytes())
}

func TestCopy_FreedCopy(t *testing.T) {
	orig := []byte{7}
	c := New(orig)
	c.Bytes()[0] = 8
	c.Free()

	require.True(t, c.Released())
	require.Nil(t, c.Bytes())
	c.Commit()
	require.Equal(t, byte(7), orig[0], "commit after free must not write back")
	requireCorruption(t, c.Check("ReleaseByteArrayElements", true), "already released")
}

func TestCopy_Owns(t *testing.T) {
	c := New(make([]byte, 4))
	require.True(t, c.Owns(c.Bytes()))
	require.False(t, c.Owns(make([]byte, 4)))
	require.False(t, c.Owns(nil))
}

func TestCopy_EmptyBuffer(t *testing.T) {
	c := New(nil)
	require.Equal(t, 0, c.Len())
	require.NoError(t, c.Check("GetStringUTFChars", false))
}

func TestCopy_PayloadAligned(t *testing.T) {
	c := New(make([]byte, 24))
	addr := uintptr(unsafe.Pointer(&c.Bytes()[0]))
	require.Zero(t, addr%8, "payload must allow typed element views")
}

func TestCopy_PatternLayout(t *testing.T) {
	c := New([]byte{1, 2, 3})
	require.Equal(t, byte(0xe3), c.block[headerLen])
	require.Equal(t, byte(0xd5), c.block[headerLen+1])

	tail := c.block[PrefixLen+3:]
	require.Len(t, tail, SuffixLen)
	for i, b := range tail {
		want := byte(Pattern & 0xff)
		if (PrefixLen+3+i)%2 == 1 {
			want = byte(Pattern >> 8)
		}
		require.Equal(t, want, b, "suffix byte %d", i)
	}
}
