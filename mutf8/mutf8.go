// Package mutf8 validates and converts modified UTF-8, the string encoding
// used on the native side of the bridge.
//
// Modified UTF-8 differs from standard UTF-8 in two ways: U+0000 is encoded
// as the two bytes C0 80, and supplementary characters are encoded as a pair
// of three-byte surrogates rather than one four-byte sequence. A valid
// modified UTF-8 buffer therefore never contains a raw zero byte or any byte
// of the form 11110xxx.
package mutf8

import (
	"unicode/utf16"

	"github.com/wippyai/native-bridge/errors"
)

// Validate reports the first malformed sequence in b.
func Validate(b []byte) error {
	for i := 0; i < len(b); {
		c := b[i]
		switch c >> 4 {
		case 0x00:
			if c == 0 {
				return invalid(b, i, "raw NUL byte")
			}
			i++
		case 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07:
			i++
		case 0x08, 0x09, 0x0a, 0x0b, 0x0f:
			return invalid(b, i, "illegal start byte")
		case 0x0c, 0x0d:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 {
				return invalid(b, i, "truncated two-byte sequence")
			}
			i += 2
		case 0x0e:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return invalid(b, i, "truncated three-byte sequence")
			}
			i += 3
		}
	}
	return nil
}

// Valid reports whether b is well-formed modified UTF-8.
func Valid(b []byte) bool {
	return Validate(b) == nil
}

// Decode converts modified UTF-8 to UTF-16 code units.
func Decode(b []byte) ([]uint16, error) {
	if err := Validate(b); err != nil {
		return nil, err
	}
	out := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			out = append(out, uint16(c))
			i++
		case c < 0xe0:
			out = append(out, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		default:
			out = append(out, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		}
	}
	return out, nil
}

// EncodedLen returns the modified UTF-8 length of the UTF-16 units.
func EncodedLen(units []uint16) int {
	n := 0
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			n++
		case u < 0x800:
			n += 2
		default:
			n += 3
		}
	}
	return n
}

// Encode converts UTF-16 code units to modified UTF-8.
func Encode(units []uint16) []byte {
	out := make([]byte, 0, EncodedLen(units))
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, 0xc0|byte(u>>6), 0x80|byte(u&0x3f))
		default:
			out = append(out, 0xe0|byte(u>>12), 0x80|byte((u>>6)&0x3f), 0x80|byte(u&0x3f))
		}
	}
	return out
}

// FromString converts a Go string to modified UTF-8.
func FromString(s string) []byte {
	return Encode(utf16.Encode([]rune(s)))
}

// ToString converts modified UTF-8 to a Go string.
func ToString(b []byte) (string, error) {
	units, err := Decode(b)
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

func invalid(b []byte, offset int, reason string) error {
	return errors.New(errors.PhaseCheck, errors.KindInvalidUTF8).
		Value(offset).
		Detail("%s 0x%02x at offset %d in %q", reason, b[offset], offset, preview(b)).
		Build()
}

func preview(b []byte) []byte {
	if len(b) > 32 {
		return b[:32]
	}
	return b
}
