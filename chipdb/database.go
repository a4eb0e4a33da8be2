// Package chipdb is the catalog of supported memory chips.
//
// The catalog is loaded from YAML. A built-in catalog is embedded in the
// binary and returned by Default; a custom file can be loaded with LoadFile.
//
// Example:
//
//	db, err := chipdb.LoadFile("chips.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	chip, err := db.Lookup("Winbond", "W25Q32")
package chipdb

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-chipprog/errcode"
)

//go:embed chips.yaml
var builtin []byte

// File is the on-disk layout of a chip database.
type File struct {
	Chips []Descriptor `yaml:"chips"`
}

// Database is an immutable, ordered chip catalog.
type Database struct {
	chips []Descriptor
	index map[string]int
}

// Match is the result of an identity lookup.
type Match struct {
	// Chip is the selected descriptor
	Chip Descriptor

	// Candidates are all descriptors sharing the manufacturer and type bytes
	Candidates []Descriptor

	// Ambiguous is set when more than one candidate matched exactly
	Ambiguous bool
}

// New builds a database from descriptors, normalizing and validating each one.
// Catalog order is preserved; it decides ties in MatchJEDEC.
func New(chips []Descriptor) (*Database, error) {
	db := &Database{
		chips: make([]Descriptor, 0, len(chips)),
		index: make(map[string]int, len(chips)),
	}
	for i := range chips {
		d := chips[i]
		if err := normalize(&d); err != nil {
			return nil, errcode.Wrap(errcode.InvalidFormat, fmt.Errorf("chips[%d]: %w", i, err))
		}
		if err := validate(&d); err != nil {
			return nil, errcode.Wrap(errcode.InvalidFormat, fmt.Errorf("chips[%d]: %w", i, err))
		}
		k := d.Key()
		if _, dup := db.index[k]; dup {
			return nil, errcode.Wrap(errcode.InvalidFormat, fmt.Errorf("chips[%d]: duplicate chip %s", i, d))
		}
		db.index[k] = len(db.chips)
		db.chips = append(db.chips, d)
	}
	return db, nil
}

// Load decodes a YAML database.
func Load(r io.Reader) (*Database, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errcode.Wrap(errcode.InvalidFormat, fmt.Errorf("decode chip database: %w", err))
	}
	if len(f.Chips) == 0 {
		return nil, errcode.Wrap(errcode.InvalidFormat, fmt.Errorf("chip database has no chips"))
	}
	return New(f.Chips)
}

// LoadFile reads a YAML database from path.
func LoadFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chip database: %w", err)
	}
	defer f.Close()
	return Load(f)
}

var (
	defaultOnce sync.Once
	defaultDB   *Database
	defaultErr  error
)

// Default returns the built-in catalog.
func Default() (*Database, error) {
	defaultOnce.Do(func() {
		defaultDB, defaultErr = Load(bytes.NewReader(builtin))
	})
	return defaultDB, defaultErr
}

// Len returns the number of chips.
func (db *Database) Len() int { return len(db.chips) }

// Chips returns a copy of the catalog in order.
func (db *Database) Chips() []Descriptor {
	out := make([]Descriptor, len(db.chips))
	copy(out, db.chips)
	return out
}

// Manufacturers returns the sorted manufacturer names.
func (db *Database) Manufacturers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range db.chips {
		if !seen[d.Manufacturer] {
			seen[d.Manufacturer] = true
			out = append(out, d.Manufacturer)
		}
	}
	sort.Strings(out)
	return out
}

// ByManufacturer returns the chips of one manufacturer in catalog order.
func (db *Database) ByManufacturer(manufacturer string) []Descriptor {
	var out []Descriptor
	for _, d := range db.chips {
		if strings.EqualFold(d.Manufacturer, manufacturer) {
			out = append(out, d)
		}
	}
	return out
}

// Lookup finds a chip by manufacturer and name, ignoring case.
func (db *Database) Lookup(manufacturer, name string) (Descriptor, error) {
	i, ok := db.index[key(manufacturer, name)]
	if !ok {
		return Descriptor{}, errcode.Wrap(errcode.UnsupportedChip,
			fmt.Errorf("chip %s %s not in database", manufacturer, name))
	}
	return db.chips[i], nil
}

// ParseSelector splits "Manufacturer/Name" and looks the chip up.
func (db *Database) ParseSelector(sel string) (Descriptor, error) {
	manufacturer, name, ok := strings.Cut(sel, "/")
	if !ok || manufacturer == "" || name == "" {
		return Descriptor{}, errcode.Wrap(errcode.InvalidFormat,
			fmt.Errorf("chip selector %q: want manufacturer/name", sel))
	}
	return db.Lookup(manufacturer, name)
}

// MatchJEDEC resolves a chip from its identity bytes.
//
// Candidates share the manufacturer and type bytes. Among them, a chip whose
// capacity byte also matches is preferred. When several match exactly, or
// none of the candidates has the capacity byte, the first candidate in
// catalog order is returned with Ambiguous set. Only an identity without any
// candidate is errcode.UnsupportedChip.
func (db *Database) MatchJEDEC(id JEDEC) (Match, error) {
	var m Match
	var exact []Descriptor
	for _, d := range db.chips {
		if d.JEDEC.IsZero() || d.JEDEC[0] != id[0] || d.JEDEC[1] != id[1] {
			continue
		}
		m.Candidates = append(m.Candidates, d)
		if d.JEDEC[2] == id[2] {
			exact = append(exact, d)
		}
	}

	switch {
	case len(m.Candidates) == 0:
		return m, errcode.Wrap(errcode.UnsupportedChip, fmt.Errorf("no chip with identity %s", id))
	case len(exact) == 0:
		m.Chip = m.Candidates[0]
		m.Ambiguous = true
	default:
		m.Chip = exact[0]
		m.Ambiguous = len(exact) > 1
	}
	return m, nil
}
