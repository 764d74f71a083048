// Package block defines the Block Record — one parsed unit of checker
// output — and its wire serialisation for the finder and the select
// callback.
package block

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	unitSeparator = 0x1F
	recordEnd     = 0x00
)

// Record is one diagnostic unit: location fields plus the original
// coloured text. Location fields are absent (zero value, IsSet false)
// for informational blocks such as summary lines.
type Record struct {
	File    string
	Line    Field
	Col     Field
	EndLine Field
	EndCol  Field
	Content string

	// Generation tags which checker run produced this record. It is
	// never part of the wire format — purely an in-process bookkeeping
	// field used by the session controller to attribute or discard
	// blocks at a generation boundary.
	Generation uint64
}

// Field is an optional 1-based location number. The zero Field is
// absent and serialises as the empty string.
type Field struct {
	Value int
	IsSet bool
}

// Set returns a Field with the given value present.
func Set(v int) Field { return Field{Value: v, IsSet: true} }

func (f Field) String() string {
	if !f.IsSet {
		return ""
	}
	return strconv.Itoa(f.Value)
}

// HasLocation reports whether any location field is present. Per the
// Block Record invariant, File must be non-empty whenever this is true.
func (r Record) HasLocation() bool {
	return r.Line.IsSet || r.Col.IsSet || r.EndLine.IsSet || r.EndCol.IsSet
}

// EncodingError is returned by Encode when Content contains a byte
// that would corrupt the wire framing (the unit separator or the
// record terminator).
type EncodingError struct {
	Byte byte
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("block: content contains reserved delimiter byte 0x%02X", e.Byte)
}

// StripDelimiters returns content with unit-separator and NUL bytes
// removed. This is the default recovery strategy documented in
// spec §4.1: strip and continue rather than aborting the block.
func StripDelimiters(content string) string {
	if !bytes.ContainsAny([]byte(content), "\x1f\x00") {
		return content
	}
	out := make([]byte, 0, len(content))
	for i := 0; i < len(content); i++ {
		if content[i] == unitSeparator || content[i] == recordEnd {
			continue
		}
		out = append(out, content[i])
	}
	return string(out)
}

// Encode writes the wire form of r: six fields separated by 0x1F,
// terminated by 0x00. Returns an *EncodingError if Content contains a
// reserved delimiter byte; callers that want strip-and-continue
// behaviour should call StripDelimiters on Content first.
func (r Record) Encode() ([]byte, error) {
	if i := bytes.IndexAny([]byte(r.Content), "\x1f\x00"); i >= 0 {
		return nil, &EncodingError{Byte: r.Content[i]}
	}

	var buf bytes.Buffer
	buf.WriteString(r.File)
	buf.WriteByte(unitSeparator)
	buf.WriteString(r.Line.String())
	buf.WriteByte(unitSeparator)
	buf.WriteString(r.Col.String())
	buf.WriteByte(unitSeparator)
	buf.WriteString(r.EndLine.String())
	buf.WriteByte(unitSeparator)
	buf.WriteString(r.EndCol.String())
	buf.WriteByte(unitSeparator)
	buf.WriteString(r.Content)
	buf.WriteByte(recordEnd)
	return buf.Bytes(), nil
}

// EncodeLenient is Encode with the default strip-and-continue recovery:
// on a delimiter error, it strips the offending bytes from Content and
// retries. It cannot fail.
func (r Record) EncodeLenient() []byte {
	encoded, err := r.Encode()
	if err == nil {
		return encoded
	}
	r.Content = StripDelimiters(r.Content)
	encoded, err = r.Encode()
	if err != nil {
		// StripDelimiters removes every reserved byte, so Encode
		// cannot fail a second time.
		panic("block: EncodeLenient: unreachable: " + err.Error())
	}
	return encoded
}

// Split extracts the first NUL-terminated record from data. ok is
// false when data contains no complete record yet (more input is
// needed). rest is the remainder of data after the consumed record.
func Split(data []byte) (rec []byte, rest []byte, ok bool) {
	i := bytes.IndexByte(data, recordEnd)
	if i < 0 {
		return nil, data, false
	}
	return data[:i], data[i+1:], true
}

// DecodeLocation parses the first five delimiter-separated fields of a
// raw record — the contract used by the select callback, which
// receives only the location fields as separate command-line
// arguments and ignores any trailing content.
func DecodeLocation(fields [5]string) (Location, error) {
	loc := Location{File: fields[0]}
	var err error
	if loc.Line, err = parseField(fields[1]); err != nil {
		return Location{}, fmt.Errorf("parsing line: %w", err)
	}
	if loc.Col, err = parseField(fields[2]); err != nil {
		return Location{}, fmt.Errorf("parsing col: %w", err)
	}
	if loc.EndLine, err = parseField(fields[3]); err != nil {
		return Location{}, fmt.Errorf("parsing end_line: %w", err)
	}
	if loc.EndCol, err = parseField(fields[4]); err != nil {
		return Location{}, fmt.Errorf("parsing end_col: %w", err)
	}
	return loc, nil
}

// Location is the five-field subset of a Record used by the select
// callback to launch an editor.
type Location struct {
	File    string
	Line    Field
	Col     Field
	EndLine Field
	EndCol  Field
}

func parseField(s string) (Field, error) {
	if s == "" {
		return Field{}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Field{}, err
	}
	return Set(n), nil
}
