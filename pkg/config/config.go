package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyovm/pkg/address"
	"github.com/openfroyo/froyovm/pkg/kernel"
	"github.com/openfroyo/froyovm/pkg/kernel/blocks"
	"github.com/openfroyo/froyovm/pkg/machine"
	"github.com/openfroyo/froyovm/pkg/policy"
	"github.com/openfroyo/froyovm/pkg/stores"
	"github.com/openfroyo/froyovm/pkg/telemetry"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Machine: MachineConfig{
			MemoryLimitPages: 256,
			Timeout:          30 * time.Second,
			MaxBlocks:        blocks.DefaultMaxBlocks,
			Entry:            machine.DefaultEntry,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Policy: PolicyConfig{
			Enabled: true,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes data in the format implied by the extension of name, on top
// of the defaults, and validates the result.
func Parse(name string, data []byte) (*Config, error) {
	cfg := Default()

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml", ".json":
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	case ".cue":
		if err := decodeCUE(name, data, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their file keys.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints, address book entries and the telemetry
// settings. It returns ValidationErrors describing every problem found.
func (c *Config) Validate() error {
	var verrs ValidationErrors

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			verrs = append(verrs, ValidationError{
				Path:    strings.TrimPrefix(fe.Namespace(), "Config."),
				Message: fmt.Sprintf("failed on %q (value %v)", fe.ActualTag(), fe.Value()),
			})
		}
	}

	for s := range c.Addresses {
		if _, err := address.Parse(s); err != nil {
			verrs = append(verrs, ValidationError{
				Path:    "addresses." + s,
				Message: err.Error(),
			})
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		verrs = append(verrs, ValidationError{Path: "telemetry", Message: err.Error()})
	}

	if len(verrs) > 0 {
		return verrs
	}
	return nil
}

// AddressBook builds the address book from the configured addresses.
func (c *Config) AddressBook() (*kernel.AddressBook, error) {
	book := kernel.NewAddressBook()
	for s, id := range c.Addresses {
		addr, err := address.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", s, err)
		}
		book.Register(addr, id)
	}
	return book, nil
}

// MachineConfig returns the machine settings, instrumented by tel. When
// admission control is enabled the policy engine becomes the admitter.
func (c *Config) MachineConfig(ctx context.Context, tel *telemetry.Telemetry) (machine.Config, error) {
	book, err := c.AddressBook()
	if err != nil {
		return machine.Config{}, err
	}

	mc := machine.Config{
		MemoryLimitPages: c.Machine.MemoryLimitPages,
		Timeout:          c.Machine.Timeout,
		MaxBlocks:        c.Machine.MaxBlocks,
		Addresses:        book,
		Telemetry:        tel,
	}

	if c.Policy.Enabled {
		logger := zerolog.Nop()
		if tel != nil {
			logger = tel.Logger.Zerolog()
		}
		engine, err := c.Policy.Engine(ctx, logger)
		if err != nil {
			return machine.Config{}, err
		}
		mc.Admission = engine
	}

	return mc, nil
}

// Engine builds a policy engine holding the built-in policies and those
// found under the configured paths.
func (p PolicyConfig) Engine(ctx context.Context, logger zerolog.Logger) (*policy.Engine, error) {
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(p.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, p.Paths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// YAML renders the configuration in the YAML file format.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Open opens the configured blockstore. The returned function releases it.
func (s StoreConfig) Open(ctx context.Context) (stores.Blockstore, func() error, error) {
	switch s.Driver {
	case DriverSQLite:
		store, err := stores.NewSQLiteBlockstore(stores.Config{Path: s.Path})
		if err != nil {
			return nil, nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to open store %s: %w", s.Path, err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("failed to migrate store %s: %w", s.Path, err)
		}
		return store, store.Close, nil
	case DriverMemory, "":
		return stores.NewMemoryBlockstore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", s.Driver)
	}
}
