package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jullanggit/keylogger/internal/ngram"
)

// Format names an export format.
type Format string

// Supported formats.
const (
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatSQLite Format = "sqlite"
)

// ErrUnknownFormat is returned for format names other than json, yaml and sqlite.
var ErrUnknownFormat = errors.New("export: unknown format")

// ParseFormat parses a format name; "yml" is accepted for YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "sqlite", "sqlite3", "db":
		return FormatSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Document is the JSON and YAML export shape.
type Document struct {
	Generated time.Time `json:"generated" yaml:"generated"`
	Orders    []Order   `json:"orders" yaml:"orders"`
}

// Order holds the ranked grams of one order.
type Order struct {
	N        int     `json:"n" yaml:"n"`
	Total    uint64  `json:"total" yaml:"total"`
	Distinct int     `json:"distinct" yaml:"distinct"`
	Grams    []Entry `json:"grams" yaml:"grams"`
}

// NewDocument builds a document listing every gram of snap in rank order.
func NewDocument(snap ngram.Snapshot, generated time.Time) Document {
	doc := Document{Generated: generated.UTC()}
	for n := 1; n <= ngram.MaxOrder; n++ {
		counts := snap.Order(n)
		doc.Orders = append(doc.Orders, Order{
			N:        n,
			Total:    snap.Total(n),
			Distinct: len(counts),
			Grams:    Top(counts, 0),
		})
	}
	return doc
}

// Snapshot converts the document back into counts.
func (d Document) Snapshot() (ngram.Snapshot, error) {
	var grams [ngram.MaxOrder]map[string]uint64
	for i := range grams {
		grams[i] = make(map[string]uint64)
	}
	for _, o := range d.Orders {
		if o.N < 1 || o.N > ngram.MaxOrder {
			return ngram.Snapshot{}, fmt.Errorf("export: order %d out of range", o.N)
		}
		for _, e := range o.Grams {
			if got := len([]rune(e.Gram)); got != o.N {
				return ngram.Snapshot{}, fmt.Errorf("export: gram %q has %d characters, want %d", e.Gram, got, o.N)
			}
			grams[o.N-1][e.Gram] = e.Count
		}
	}
	return ngram.NewSnapshot(grams[0], grams[1], grams[2]), nil
}

// WriteDocument writes snap as JSON or YAML.
func WriteDocument(w io.Writer, format Format, snap ngram.Snapshot, generated time.Time) error {
	doc := NewDocument(snap, generated)
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("export: encode JSON: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("export: encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("export: encode YAML: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q is not a document format", ErrUnknownFormat, format)
	}
	return nil
}

// ReadDocument parses a JSON or YAML export.
func ReadDocument(r io.Reader, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("export: decode JSON: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("export: decode YAML: %w", err)
		}
	default:
		return Document{}, fmt.Errorf("%w: %q is not a document format", ErrUnknownFormat, format)
	}
	return doc, nil
}
