package bridge

import (
	"strings"
	"unicode/utf16"

	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/managed"
)

// Type is one parsed type descriptor.
type Type struct {
	// Class is the internal class name for object types ("java/lang/String")
	// and the full descriptor for array types ("[I").
	Class string
	Kind  managed.Kind
}

// Descriptor returns the descriptor form of t.
func (t Type) Descriptor() string {
	switch {
	case t.Kind != managed.Reference:
		return string(rune(t.Kind))
	case strings.HasPrefix(t.Class, "["):
		return t.Class
	}
	return "L" + t.Class + ";"
}

func (t Type) String() string {
	if t.Kind == managed.Reference {
		return t.Class
	}
	return t.Kind.String()
}

// Signature is a parsed method descriptor such as "(I[BLjava/lang/String;)V".
type Signature struct {
	raw    string
	Params []Type
	Return Type
}

// ParseSignature parses a method descriptor.
func ParseSignature(s string) (*Signature, error) {
	if len(s) < 3 || s[0] != '(' {
		return nil, badSignature(s, "must start with '('")
	}
	sig := &Signature{raw: s}
	i := 1
	for i < len(s) && s[i] != ')' {
		t, next, err := parseType(s, i)
		if err != nil {
			return nil, err
		}
		if t.Kind == managed.Void {
			return nil, badSignature(s, "void parameter")
		}
		sig.Params = append(sig.Params, t)
		i = next
	}
	if i >= len(s) {
		return nil, badSignature(s, "missing ')'")
	}
	ret, next, err := parseType(s, i+1)
	if err != nil {
		return nil, err
	}
	if next != len(s) {
		return nil, badSignature(s, "trailing characters after return type")
	}
	sig.Return = ret
	return sig, nil
}

func parseType(s string, i int) (Type, int, error) {
	if i >= len(s) {
		return Type{}, i, badSignature(s, "truncated")
	}
	switch k := managed.Kind(s[i]); {
	case k == managed.Void || k.IsPrimitive():
		return Type{Kind: k}, i + 1, nil
	case k == managed.Reference:
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return Type{}, i, badSignature(s, "unterminated class name")
		}
		return Type{Kind: managed.Reference, Class: s[i+1 : i+end]}, i + end + 1, nil
	case s[i] == '[':
		elem, next, err := parseType(s, i+1)
		if err != nil {
			return Type{}, i, err
		}
		if elem.Kind == managed.Void {
			return Type{}, i, badSignature(s, "array of void")
		}
		return Type{Kind: managed.Reference, Class: s[i:next]}, next, nil
	}
	return Type{}, i, badSignature(s, "unknown type character "+string(s[i]))
}

func badSignature(s, why string) *errors.Error {
	return errors.New(errors.PhaseCall, errors.KindInvalidInput).
		Value(s).
		Detail("bad method signature %q: %s", s, why).
		Build()
}

func (s *Signature) String() string { return s.raw }

// Shorty returns the compact descriptor: the return kind followed by one
// kind per parameter, with every reference type collapsed to 'L'.
func (s *Signature) Shorty() string {
	b := make([]byte, 0, 1+len(s.Params))
	b = append(b, byte(s.Return.Kind))
	for _, p := range s.Params {
		b = append(b, byte(p.Kind))
	}
	return string(b)
}

// ParamDescriptors returns the text between the parentheses.
func (s *Signature) ParamDescriptors() string {
	return s.raw[1:strings.IndexByte(s.raw, ')')]
}

// MangleName returns the short native symbol for a method:
// Java_<class>_<method>.
func MangleName(class, method string) string {
	var b strings.Builder
	b.WriteString("Java_")
	mangleInto(&b, class)
	b.WriteByte('_')
	mangleInto(&b, method)
	return b.String()
}

// MangleLongName returns the overload-qualified symbol:
// Java_<class>_<method>__<params>.
func MangleLongName(class, method string, sig *Signature) string {
	var b strings.Builder
	b.WriteString(MangleName(class, method))
	b.WriteString("__")
	mangleInto(&b, sig.ParamDescriptors())
	return b.String()
}

func mangleInto(b *strings.Builder, s string) {
	const hex = "0123456789abcdef"
	for _, r := range s {
		switch {
		case r == '/':
			b.WriteByte('_')
		case r == '_':
			b.WriteString("_1")
		case r == ';':
			b.WriteString("_2")
		case r == '[':
			b.WriteString("_3")
		case r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			for _, u := range utf16.Encode([]rune{r}) {
				b.WriteString("_0")
				b.WriteByte(hex[u>>12&0xf])
				b.WriteByte(hex[u>>8&0xf])
				b.WriteByte(hex[u>>4&0xf])
				b.WriteByte(hex[u&0xf])
			}
		}
	}
}
