package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/froyovm/pkg/telemetry"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the complete froyovm configuration.
type Config struct {
	// Machine contains the engine and kernel limits.
	Machine MachineConfig `yaml:"machine" json:"machine"`

	// Store selects the blockstore holding actor state.
	Store StoreConfig `yaml:"store" json:"store"`

	// Policy configures module admission.
	Policy PolicyConfig `yaml:"policy" json:"policy"`

	// Addresses maps address strings to the actor IDs they resolve to.
	Addresses map[string]uint64 `yaml:"addresses,omitempty" json:"addresses,omitempty"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
}

// MachineConfig configures the engine and kernel.
type MachineConfig struct {
	// MemoryLimitPages caps guest linear memory, in 64 KiB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" json:"memory_limit_pages" validate:"gte=1,lte=65536"`

	// Timeout bounds a single invocation.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// MaxBlocks caps the blocks one invocation may hold. Zero means the
	// kernel default.
	MaxBlocks int `yaml:"max_blocks" json:"max_blocks" validate:"gte=0"`

	// Entry is the export invoked when none is given.
	Entry string `yaml:"entry" json:"entry" validate:"required"`
}

// StoreConfig selects a blockstore.
type StoreConfig struct {
	// Driver is memory or sqlite.
	Driver string `yaml:"driver" json:"driver" validate:"oneof=memory sqlite"`

	// Path is the SQLite database file.
	Path string `yaml:"path,omitempty" json:"path,omitempty" validate:"required_if=Driver sqlite"`
}

// PolicyConfig configures the admission policies checked before a module is
// invoked.
type PolicyConfig struct {
	// Enabled turns admission control on. The built-in policies always apply
	// when it is.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Paths lists additional .rego or .json policy files and directories.
	Paths []string `yaml:"paths,omitempty" json:"paths,omitempty" validate:"dive,required"`
}

// ValidationError is one configuration problem.
type ValidationError struct {
	// File, Line and Column locate the problem when it is known.
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`

	// Path is the offending field.
	Path string `json:"path,omitempty"`

	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned by Load and Validate when the configuration
// is rejected.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
