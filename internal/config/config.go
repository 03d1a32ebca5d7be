// Package config loads dmunit's optional TOML harness configuration,
// grounded in lookbusy1344-arm_emulator's config layer: a handful of
// plain fields, defaults applied when the file is absent, and command
// line flags layered on top of (never replaced by) the file.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the harness-wide tuning surface: how big the simulated block
// device is, how many instructions a single Call may retire before
// faulting, and how verbose logging should be.
type Config struct {
	BlockCount      uint64 `toml:"block_count"`
	BlockSize       uint64 `toml:"block_size"`
	InstructionLimit uint64 `toml:"instruction_limit"`
	LogLevel        string `toml:"log_level"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		BlockCount:       1024,
		BlockSize:        4096,
		InstructionLimit: 1_000_000,
		LogLevel:         "warn",
	}
}

// Load reads a TOML file at path, applying it on top of Default. A
// missing file is not an error: Default is returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Override layers non-zero CLI-flag values onto cfg, giving flags
// priority over whatever the file (or the defaults) set.
func (c Config) Override(blockCount, blockSize, instructionLimit uint64, logLevel string) Config {
	if blockCount != 0 {
		c.BlockCount = blockCount
	}
	if blockSize != 0 {
		c.BlockSize = blockSize
	}
	if instructionLimit != 0 {
		c.InstructionLimit = instructionLimit
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	return c
}
