// Package layout turns evdev key codes into characters.
//
// A Keymap maps each key to up to four levels (base, shift, AltGr,
// shift+AltGr). Keymaps are YAML documents validated against an embedded
// JSON schema; the us and ch(de) layouts are built in. A Decoder tracks
// modifier, lock and dead-key state across key transitions.
package layout

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed layouts/*.yaml
var embedded embed.FS

//go:embed layout.schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/jullanggit/keylogger/layout.schema.json"

// Errors
var (
	ErrUnknownLayout = errors.New("layout: unknown layout")
	ErrUnknownModel  = errors.New("layout: unknown keyboard model")
	ErrInvalid       = errors.New("layout: invalid keymap")
)

// Keyboard models. pc104 has no key between left shift and Z.
const (
	ModelPC104 = "pc104"
	ModelPC105 = "pc105"
)

// keymapFile is the YAML form of a keymap.
type keymapFile struct {
	Name        string                 `yaml:"name"`
	Variant     string                 `yaml:"variant"`
	Description string                 `yaml:"description"`
	Keys        map[string][]string    `yaml:"keys"`
	Numpad      map[string]string      `yaml:"numpad"`
	DeadKeys    map[string]deadKeyFile `yaml:"dead_keys"`
}

type deadKeyFile struct {
	Spacing string            `yaml:"spacing"`
	Compose map[string]string `yaml:"compose"`
}

// symbol is one level of a key: a character, a dead key, or nothing.
type symbol struct {
	r    rune
	dead string
}

func (s symbol) none() bool {
	return s.r == 0 && s.dead == ""
}

type deadKey struct {
	spacing rune
	compose map[rune]rune
}

// Keymap is a parsed, validated layout.
type Keymap struct {
	Name        string
	Variant     string
	Description string

	keys   map[uint16][]symbol
	numpad map[uint16]rune
	dead   map[string]deadKey
}

// ID returns the layout in xkb notation, e.g. "ch(de)".
func (k *Keymap) ID() string {
	return layoutID(k.Name, k.Variant)
}

func layoutID(name, variant string) string {
	if variant == "" {
		return name
	}
	return name + "(" + variant + ")"
}

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// Parse validates and builds a keymap from YAML.
func Parse(data []byte) (*Keymap, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	var f keymapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return build(f)
}

// validate checks the document against the layout schema. YAML is first
// converted to its JSON data model, which the validator works on.
func validate(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile layout schema: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func build(f keymapFile) (*Keymap, error) {
	k := &Keymap{
		Name:        f.Name,
		Variant:     f.Variant,
		Description: f.Description,
		keys:        make(map[uint16][]symbol, len(f.Keys)),
		numpad:      make(map[uint16]rune, len(f.Numpad)),
		dead:        make(map[string]deadKey, len(f.DeadKeys)),
	}

	for name, dk := range f.DeadKeys {
		spacing, err := singleRune(dk.Spacing)
		if err != nil {
			return nil, fmt.Errorf("%w: %s spacing: %v", ErrInvalid, name, err)
		}
		compose := make(map[rune]rune, len(dk.Compose))
		for base, out := range dk.Compose {
			b, err := singleRune(base)
			if err != nil {
				return nil, fmt.Errorf("%w: %s compose %q: %v", ErrInvalid, name, base, err)
			}
			o, err := singleRune(out)
			if err != nil {
				return nil, fmt.Errorf("%w: %s compose %q: %v", ErrInvalid, name, base, err)
			}
			compose[b] = o
		}
		k.dead[name] = deadKey{spacing: spacing, compose: compose}
	}

	for name, levels := range f.Keys {
		code, ok := KeyCode(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, name)
		}
		syms := make([]symbol, len(levels))
		for i, lv := range levels {
			s, err := k.parseSymbol(lv)
			if err != nil {
				return nil, fmt.Errorf("%w: %s level %d: %v", ErrInvalid, name, i+1, err)
			}
			syms[i] = s
		}
		k.keys[code] = syms
	}

	for name, out := range f.Numpad {
		code, ok := KeyCode(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, name)
		}
		if _, dup := k.keys[code]; dup {
			return nil, fmt.Errorf("%w: %s is mapped in both keys and numpad", ErrInvalid, name)
		}
		r, err := singleRune(out)
		if err != nil {
			return nil, fmt.Errorf("%w: numpad %s: %v", ErrInvalid, name, err)
		}
		k.numpad[code] = r
	}

	return k, nil
}

func (k *Keymap) parseSymbol(s string) (symbol, error) {
	if s == "" {
		return symbol{}, nil
	}
	if strings.HasPrefix(s, "dead_") {
		if _, ok := k.dead[s]; !ok {
			return symbol{}, fmt.Errorf("dead key %s has no dead_keys entry", s)
		}
		return symbol{dead: s}, nil
	}
	r, err := singleRune(s)
	if err != nil {
		return symbol{}, err
	}
	return symbol{r: r}, nil
}

func singleRune(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%q is not a single character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return 0, fmt.Errorf("%q is not valid UTF-8", s)
	}
	return r, nil
}

// withModel returns a copy of k without keys the model lacks.
func (k *Keymap) withModel(model string) (*Keymap, error) {
	switch model {
	case "", ModelPC105:
		return k, nil
	case ModelPC104:
		c := *k
		c.keys = make(map[uint16][]symbol, len(k.keys))
		for code, syms := range k.keys {
			if code != key102nd {
				c.keys[code] = syms
			}
		}
		return &c, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
}

// Available returns the IDs of the built-in layouts, sorted.
func Available() []string {
	all, err := loadEmbedded()
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Builtin returns a built-in layout by name and variant.
func Builtin(name, variant string) (*Keymap, error) {
	all, err := loadEmbedded()
	if err != nil {
		return nil, err
	}
	k, ok := all[layoutID(name, variant)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLayout, layoutID(name, variant))
	}
	return k, nil
}

var loadEmbedded = sync.OnceValues(func() (map[string]*Keymap, error) {
	entries, err := fs.ReadDir(embedded, "layouts")
	if err != nil {
		return nil, err
	}

	all := make(map[string]*Keymap, len(entries))
	for _, e := range entries {
		data, err := embedded.ReadFile(path.Join("layouts", e.Name()))
		if err != nil {
			return nil, err
		}
		k, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("built-in layout %s: %w", e.Name(), err)
		}
		all[k.ID()] = k
	}
	return all, nil
})

// LoadFile reads a keymap from a YAML file.
func LoadFile(filename string) (*Keymap, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	k, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return k, nil
}

// Options select a keymap the way xkb names do.
type Options struct {
	Model   string
	Layout  string
	Variant string

	// File, when set, replaces the built-in Layout/Variant.
	File string
}

// Resolve loads the keymap described by opts.
func Resolve(opts Options) (*Keymap, error) {
	var k *Keymap
	var err error
	if opts.File != "" {
		k, err = LoadFile(opts.File)
	} else {
		k, err = Builtin(opts.Layout, opts.Variant)
	}
	if err != nil {
		return nil, err
	}
	return k.withModel(opts.Model)
}
