// Package guard wraps buffers handed to native code in a guarded copy.
//
// A Copy is one allocation laid out as
//
//	[ header | pattern ][ payload ][ pattern ]
//	 <---- PrefixLen ---><- n ----><- SuffixLen ->
//
// The header records a magic word, an Adler-32 checksum of the original
// bytes and the payload length. The rest of the block is filled with a
// 16-bit pattern. On release the block is verified: a damaged pattern means
// native code wrote outside the bounds it was given, and a checksum mismatch
// on a buffer that was not allowed to change means native code wrote where it
// promised not to.
package guard

import (
	"encoding/binary"
	"hash/adler32"
	"unsafe"

	"github.com/wippyai/native-bridge/errors"
)

const (
	// Magic marks the start of a live guarded block.
	Magic uint32 = 0xffd5aa96
	// Pattern fills the guard regions.
	Pattern uint16 = 0xd5e3
	// PrefixLen is the distance from the block start to the payload.
	PrefixLen = 256
	// SuffixLen is the length of the trailing guard region.
	SuffixLen = 256

	headerLen = 16
	freed     = 0xdeadbeef
)

// Copy is a guarded duplicate of a native-visible buffer.
type Copy struct {
	block    []byte
	original []byte
	length   int
}

// New copies original into a fresh guarded block.
func New(original []byte) *Copy {
	n := len(original)
	total := PrefixLen + n + SuffixLen
	words := make([]uint64, (total+7)/8)
	block := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), total)

	for i := range block {
		block[i] = patternByte(i)
	}
	copy(block[PrefixLen:], original)

	binary.LittleEndian.PutUint32(block[0:], Magic)
	binary.LittleEndian.PutUint32(block[4:], adler32.Checksum(original))
	binary.LittleEndian.PutUint64(block[8:], uint64(n))

	return &Copy{
		block:    block,
		original: original,
		length:   n,
	}
}

func patternByte(i int) byte {
	if i%2 == 0 {
		return byte(Pattern & 0xff)
	}
	return byte(Pattern >> 8)
}

// Len returns the payload length.
func (c *Copy) Len() int { return c.length }

// Original returns the buffer the copy was made from.
func (c *Copy) Original() []byte { return c.original }

// Bytes returns the payload. Its capacity runs to the end of the block, as a
// raw native pointer would; writes past Len are caught by Check.
// Bytes returns nil once the copy has been freed or its header is damaged.
func (c *Copy) Bytes() []byte {
	if binary.LittleEndian.Uint32(c.block[0:]) != Magic {
		return nil
	}
	return c.block[PrefixLen : PrefixLen+c.length]
}

// Owns reports whether p points at this copy's payload.
func (c *Copy) Owns(p []byte) bool {
	if cap(p) == 0 {
		return false
	}
	return unsafe.Pointer(unsafe.SliceData(p)) == unsafe.Pointer(&c.block[PrefixLen])
}

// Check verifies the block. With modOkay false the payload must be
// unchanged since New. op names the bridge call for the report.
func (c *Copy) Check(op string, modOkay bool) error {
	if m := binary.LittleEndian.Uint32(c.block[0:]); m != Magic {
		if m == freed {
			return errors.Corruption(op, "guarded copy already released")
		}
		return errors.New(errors.PhaseGuard, errors.KindCorruption).
			Class(errors.ClassIntegrity).
			Op(op).
			Value(m).
			Detail("guard magic 0x%08x is not 0x%08x; header overwritten", m, Magic).
			Build()
	}

	if n := binary.LittleEndian.Uint64(c.block[8:]); n != uint64(c.length) {
		return errors.New(errors.PhaseGuard, errors.KindCorruption).
			Class(errors.ClassIntegrity).
			Op(op).
			Detail("guard length %d does not match %d; header overwritten", n, c.length).
			Build()
	}

	for i := headerLen; i < PrefixLen; i++ {
		if c.block[i] != patternByte(i) {
			return errors.New(errors.PhaseGuard, errors.KindCorruption).
				Class(errors.ClassIntegrity).
				Op(op).
				Value(i-PrefixLen).
				Detail("guard pattern before buffer disturbed at offset %d", i-PrefixLen).
				Build()
		}
	}
	for i := PrefixLen + c.length; i < len(c.block); i++ {
		if c.block[i] != patternByte(i) {
			return errors.New(errors.PhaseGuard, errors.KindCorruption).
				Class(errors.ClassIntegrity).
				Op(op).
				Value(i-PrefixLen).
				Detail("guard pattern after buffer disturbed at offset %d (length %d)", i-PrefixLen, c.length).
				Build()
		}
	}

	if !modOkay {
		want := binary.LittleEndian.Uint32(c.block[4:])
		if got := adler32.Checksum(c.block[PrefixLen : PrefixLen+c.length]); got != want {
			return errors.New(errors.PhaseGuard, errors.KindCorruption).
				Class(errors.ClassIntegrity).
				Op(op).
				Detail("buffer modified (0x%08x vs 0x%08x) when not allowed", got, want).
				Build()
		}
	}
	return nil
}

// Commit copies the payload back into the original buffer.
func (c *Copy) Commit() {
	if c.Released() {
		return
	}
	copy(c.original, c.block[PrefixLen:PrefixLen+c.length])
}

// Free poisons the header. A freed copy hands out no payload and fails Check.
func (c *Copy) Free() {
	binary.LittleEndian.PutUint32(c.block[0:], freed)
}

// Released reports whether Free has been called.
func (c *Copy) Released() bool {
	return binary.LittleEndian.Uint32(c.block[0:]) == freed
}
