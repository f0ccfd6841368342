package source

import (
	"fmt"

	"github.com/spf13/afero"
)

// Constructor creates a Source reading location.
type Constructor func(fs afero.Fs, location string) Source

var registry = map[string]Constructor{}

// Register adds a source constructor under the given kind.
func Register(kind string, ctor Constructor) {
	registry[kind] = ctor
}

// Get returns the source constructor for the given kind.
func Get(kind string) (Constructor, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown source kind: %s", kind)
	}
	return ctor, nil
}

// Open picks the source for location: "-" is standard input, anything else a file.
func Open(fs afero.Fs, location string) (Source, error) {
	kind := "file"
	if location == "-" {
		kind = "stdin"
	}
	ctor, err := Get(kind)
	if err != nil {
		return nil, err
	}
	return ctor(fs, location), nil
}
