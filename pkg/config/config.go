// Package config holds the kernel's tunable capacities.
//
// A Config starts from Default, may be overlaid by a YAML file (Load or
// Parse) and finally by GOKERN_* environment variables (ApplyEnv).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Configuration errors.
var (
	ErrInvalidConfig = errors.New("config: invalid value")
)

// Config contains the kernel's capacities and boot settings.
type Config struct {
	// MaxProcs is the size of the process table. PID 0 is reserved, so
	// at most MaxProcs-1 processes are live at once.
	MaxProcs int `yaml:"maxprocs"`
	// OpenMax is the size of each process's descriptor table.
	OpenMax int `yaml:"openmax"`
	// MaxChildren bounds the child-PID list of a process.
	MaxChildren int `yaml:"maxchildren"`
	// PathMax bounds a path copied in from user memory, NUL included.
	PathMax int `yaml:"pathmax"`
	// ArgMax bounds the total size of the argument strings given to execv.
	ArgMax int `yaml:"argmax"`
	// RAMPages is the number of physical pages available to user
	// address spaces.
	RAMPages int `yaml:"rampages"`
	// StackPages is the size of each user stack in pages.
	StackPages int `yaml:"stackpages"`
	// ImageCache is the number of parsed executables the loader keeps.
	ImageCache int `yaml:"imagecache"`
	// Debug is a GOKERNDEBUG-style label list enabled at boot.
	Debug string `yaml:"debug"`
	// Init is the program run at boot and its arguments.
	Init []string `yaml:"init"`
	// HostRoot, when set, is mounted as emu0:.
	HostRoot string `yaml:"hostroot"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MaxProcs:    128,
		OpenMax:     64,
		MaxChildren: 32,
		PathMax:     1024,
		ArgMax:      64 * 1024,
		RAMPages:    1024, // 4 MB
		StackPages:  18,   // 72 KB
		ImageCache:  16,
		Init:        []string{"/bin/init"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides capacities from GOKERN_MAXPROCS, GOKERN_OPENMAX and
// GOKERN_RAMPAGES.
func (c *Config) ApplyEnv() error {
	env := []struct {
		name string
		dst  *int
	}{
		{"GOKERN_MAXPROCS", &c.MaxProcs},
		{"GOKERN_OPENMAX", &c.OpenMax},
		{"GOKERN_RAMPAGES", &c.RAMPages},
	}
	for _, e := range env {
		s := os.Getenv(e.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%w: %v=%q", ErrInvalidConfig, e.name, s)
		}
		*e.dst = n
	}
	if s := os.Getenv("GOKERNDEBUG"); s != "" {
		c.Debug = s
	}
	return c.Validate()
}

// Validate rejects capacities the kernel cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.MaxProcs < 2:
		return fmt.Errorf("%w: maxprocs %d", ErrInvalidConfig, c.MaxProcs)
	case c.OpenMax < 3:
		return fmt.Errorf("%w: openmax %d (stdin, stdout and stderr need 3)", ErrInvalidConfig, c.OpenMax)
	case c.MaxChildren < 1:
		return fmt.Errorf("%w: maxchildren %d", ErrInvalidConfig, c.MaxChildren)
	case c.PathMax < 2:
		return fmt.Errorf("%w: pathmax %d", ErrInvalidConfig, c.PathMax)
	case c.ArgMax < c.PathMax:
		return fmt.Errorf("%w: argmax %d below pathmax %d", ErrInvalidConfig, c.ArgMax, c.PathMax)
	case c.RAMPages < 1:
		return fmt.Errorf("%w: rampages %d", ErrInvalidConfig, c.RAMPages)
	case c.StackPages < 1:
		return fmt.Errorf("%w: stackpages %d", ErrInvalidConfig, c.StackPages)
	case c.ImageCache < 1:
		return fmt.Errorf("%w: imagecache %d", ErrInvalidConfig, c.ImageCache)
	}
	return nil
}
