package ngram

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrFormat is the sentinel wrapped by every FormatError.
var ErrFormat = errors.New("ngram: malformed gram table")

// FormatError describes a line that could not be decoded.
type FormatError struct {
	// File is set by callers that decode from disk.
	File   string
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("ngram: %s:%d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("ngram: line %d: %s", e.Line, e.Reason)
}

// Unwrap lets errors.Is match ErrFormat.
func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// Encode writes m as one "<count> <escaped-key>" line per entry.
// Lines are sorted by key so equal tables encode to identical bytes.
func Encode(w io.Writer, m map[string]uint64) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 64)
	for _, k := range keys {
		buf = buf[:0]
		buf = strconv.AppendUint(buf, m[k], 10)
		buf = append(buf, ' ')
		buf = appendEscaped(buf, k)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// EncodeBytes is Encode into a byte slice.
func EncodeBytes(m map[string]uint64) []byte {
	var b bytes.Buffer
	// bytes.Buffer writes never fail
	_ = Encode(&b, m)
	return b.Bytes()
}

// Decode parses the output of Encode. Empty lines are ignored and a key that
// appears twice keeps the last count.
func Decode(r io.Reader) (map[string]uint64, error) {
	return decode(r, 0)
}

// DecodeOrder is Decode restricted to keys of exactly n runes.
func DecodeOrder(r io.Reader, n int) (map[string]uint64, error) {
	return decode(r, n)
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(data []byte) (map[string]uint64, error) {
	return decode(bytes.NewReader(data), 0)
}

func decode(r io.Reader, order int) (map[string]uint64, error) {
	m := make(map[string]uint64)

	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		if line != "" {
			lineNo++
			if ferr := decodeLine(m, strings.TrimSuffix(line, "\n"), lineNo, order); ferr != nil {
				return nil, ferr
			}
		}
		if err == io.EOF {
			return m, nil
		}
	}
}

func decodeLine(m map[string]uint64, line string, lineNo, order int) error {
	if line == "" {
		return nil
	}

	countText, escaped, ok := strings.Cut(line, " ")
	if !ok {
		return &FormatError{Line: lineNo, Reason: "missing separator between count and key"}
	}

	count, err := strconv.ParseUint(countText, 10, 64)
	if err != nil {
		return &FormatError{Line: lineNo, Reason: fmt.Sprintf("invalid count %q", countText)}
	}

	key, err := unescape(escaped)
	if err != nil {
		return &FormatError{Line: lineNo, Reason: err.Error()}
	}
	if order > 0 && utf8.RuneCountInString(key) != order {
		return &FormatError{
			Line:   lineNo,
			Reason: fmt.Sprintf("key has %d characters, want %d", utf8.RuneCountInString(key), order),
		}
	}

	m[key] = count
	return nil
}

func appendEscaped(dst []byte, key string) []byte {
	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

func unescape(s string) (string, error) {
	if strings.IndexByte(s, '\\') < 0 {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 == len(s) {
			return "", errors.New("dangling escape at end of key")
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		default:
			return "", fmt.Errorf("unknown escape sequence \\%c", s[i])
		}
	}
	return b.String(), nil
}
