package substream

import (
	"strconv"
	"strings"
)

// fieldKind tags how a Field is serialized.
type fieldKind uint8

const (
	kindString fieldKind = iota
	kindUint
)

// Field is one element of a substream Context.
type Field struct {
	kind fieldKind
	str  string
	num  uint64
}

// Str creates a string field, serialized as a uer string.
func Str(s string) Field {
	return Field{kind: kindString, str: s}
}

// U64 creates an unsigned integer field, serialized as LE64.
func U64(v uint64) Field {
	return Field{kind: kindUint, num: v}
}

// I64 creates a signed integer field, serialized as the LE64 of its two's
// complement bit pattern.
func I64(v int64) Field {
	return Field{kind: kindUint, num: uint64(v)}
}

// appendTo serializes the field.
func (f Field) appendTo(dst []byte) []byte {
	if f.kind == kindString {
		return AppendUERString(dst, f.str)
	}
	return AppendLE64(dst, f.num)
}

// String renders the field for labels. Integers render in decimal.
// Strings escape '\' and '|'. A string of only decimal digits gets a
// leading '\' so it never reads as an integer field.
func (f Field) String() string {
	if f.kind != kindString {
		return strconv.FormatUint(f.num, 10)
	}
	s := labelEscaper.Replace(f.str)
	if isDecimal(f.str) {
		return `\` + s
	}
	return s
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Context is the ordered tuple of domain strings and business identifiers
// that scopes one substream, e.g. ["mlr:1B", "in_cell_jitter", merchant,
// country, site_order].
//
// The field kinds after a domain tag are fixed for that tag. The encoding
// carries no kind marker, so U64(v) and a Str of four bytes can serialize
// to the same eight bytes.
type Context []Field

// New builds a Context from fields.
func New(fields ...Field) Context {
	return Context(fields)
}

// With returns a new Context with extra fields appended. The receiver is
// not modified.
func (c Context) With(fields ...Field) Context {
	out := make(Context, 0, len(c)+len(fields))
	out = append(out, c...)
	return append(out, fields...)
}

// Label renders the context as a human-readable substream label, one field
// per '|'-separated part. Distinct contexts give distinct labels.
func (c Context) Label() string {
	parts := make([]string, len(c))
	for i, f := range c {
		parts[i] = f.String()
	}
	return strings.Join(parts, "|")
}

// Bytes returns the serialized context, without master material.
func (c Context) Bytes() []byte {
	var buf []byte
	for _, f := range c {
		buf = f.appendTo(buf)
	}
	return buf
}
