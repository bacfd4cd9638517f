// Package config reads the xmlfix configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jacoelho/sqlxml"
)

// File is the decoded configuration. Zero fields keep the library defaults.
type File struct {
	ServerEncoding string `yaml:"server_encoding"`
	WrapElement    string `yaml:"wrap_element"`
	// PrescanLimit is a human-readable size such as "4KiB" or "512".
	PrescanLimit string `yaml:"prescan_limit"`
	LogLevel     string `yaml:"log_level"`
	MaxDepth     int    `yaml:"max_depth"`
	StrictWrite  *bool  `yaml:"strict_write"`

	prescanBytes int64
}

// Load reads and parses the file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes one YAML document. Unknown keys are rejected. An empty
// document yields the zero File.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, err
	}
	if f.PrescanLimit != "" {
		n, err := units.RAMInBytes(f.PrescanLimit)
		if err != nil {
			return File{}, fmt.Errorf("prescan_limit: %w", err)
		}
		if n < 0 {
			return File{}, fmt.Errorf("prescan_limit must be >= 0")
		}
		f.prescanBytes = n
	}
	if f.LogLevel != "" {
		if _, err := logrus.ParseLevel(f.LogLevel); err != nil {
			return File{}, fmt.Errorf("log_level: %w", err)
		}
	}
	return f, nil
}

// PrescanBytes returns the parsed prescan limit, 0 when unset.
func (f File) PrescanBytes() int64 {
	return f.prescanBytes
}

// Options converts the file into runtime options. Only the keys present in
// the file are set, so the result can be joined with command line options.
func (f File) Options() sqlxml.Options {
	opts := sqlxml.NewOptions()
	if f.ServerEncoding != "" {
		opts = opts.WithServerEncoding(f.ServerEncoding)
	}
	if f.WrapElement != "" {
		opts = opts.WithWrapElement(f.WrapElement)
	}
	if f.prescanBytes != 0 {
		opts = opts.WithPrescanLimit(int(f.prescanBytes))
	}
	if f.MaxDepth != 0 {
		opts = opts.WithMaxDepth(f.MaxDepth)
	}
	if f.StrictWrite != nil {
		opts = opts.WithStrictWrite(*f.StrictWrite)
	}
	return opts
}
