// Package config resolves structra settings from an HCL file, a .env file
// and STRUCTRA_* environment variables, in increasing precedence. Command
// line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/joho/godotenv"
)

const (
	DefaultFile      = "structra.hcl"
	DefaultEnvFile   = ".env"
	DefaultExtension = ".txt"
	envPrefix        = "STRUCTRA_"

	// BesideSource as the output places each structure next to its input
	// file.
	BesideSource = "@source"
)

type Config struct {
	Output    string `hcl:"output,optional"`
	Extension string `hcl:"extension,optional"`
	DirMode   string `hcl:"dir_mode,optional"`
	FileMode  string `hcl:"file_mode,optional"`
	Journal   string `hcl:"journal,optional"`
	Log       *Log   `hcl:"log,block"`
}

type Log struct {
	Level      string `hcl:"level,optional"`
	File       string `hcl:"file,optional"`
	JSON       bool   `hcl:"json,optional"`
	MaxSizeMB  int    `hcl:"max_size_mb,optional"`
	MaxBackups int    `hcl:"max_backups,optional"`
	MaxAgeDays int    `hcl:"max_age_days,optional"`
	Compress   bool   `hcl:"compress,optional"`
}

// BesideInput reports whether output is relative to each input file.
func (c *Config) BesideInput() bool {
	return c.Output == BesideSource
}

func Default() *Config {
	return &Config{
		Extension: DefaultExtension,
		DirMode:   "0755",
		FileMode:  "0644",
		Log:       &Log{Level: "info"},
	}
}

// Load resolves the configuration. path names an HCL file; when empty,
// STRUCTRA_CONFIG and then ./structra.hcl are tried, and a missing default
// file is not an error.
func Load(path string) (*Config, error) {
	return load(path, DefaultEnvFile, os.LookupEnv)
}

func load(path, envFile string, lookupEnv func(string) (string, bool)) (*Config, error) {
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}
	lookup := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		if v, ok := lookup(envPrefix + "CONFIG"); ok && v != "" {
			path, explicit = v, true
		} else {
			path = DefaultFile
		}
	}
	if _, statErr := os.Stat(path); statErr == nil || explicit {
		var file Config
		if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg.merge(&file)
	}

	cfg.applyEnv(lookup)

	if _, err := cfg.DirPerm(); err != nil {
		return nil, err
	}
	if _, err := cfg.FilePerm(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(o *Config) {
	setString(&c.Output, o.Output)
	setString(&c.Extension, o.Extension)
	setString(&c.DirMode, o.DirMode)
	setString(&c.FileMode, o.FileMode)
	setString(&c.Journal, o.Journal)
	if o.Log != nil {
		setString(&c.Log.Level, o.Log.Level)
		setString(&c.Log.File, o.Log.File)
		c.Log.JSON = c.Log.JSON || o.Log.JSON
		c.Log.Compress = c.Log.Compress || o.Log.Compress
		if o.Log.MaxSizeMB > 0 {
			c.Log.MaxSizeMB = o.Log.MaxSizeMB
		}
		if o.Log.MaxBackups > 0 {
			c.Log.MaxBackups = o.Log.MaxBackups
		}
		if o.Log.MaxAgeDays > 0 {
			c.Log.MaxAgeDays = o.Log.MaxAgeDays
		}
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	env := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	env("OUTPUT", &c.Output)
	env("EXTENSION", &c.Extension)
	env("DIR_MODE", &c.DirMode)
	env("FILE_MODE", &c.FileMode)
	env("JOURNAL", &c.Journal)
	env("LOG_LEVEL", &c.Log.Level)
	env("LOG_FILE", &c.Log.File)
	if v, ok := lookup(envPrefix + "LOG_JSON"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Log.JSON = b
		}
	}
}

func (c *Config) DirPerm() (os.FileMode, error) {
	return ParsePerm(c.DirMode, 0o755)
}

func (c *Config) FilePerm() (os.FileMode, error) {
	return ParsePerm(c.FileMode, 0o644)
}

// ParsePerm parses an octal permission such as "0755", "755" or "0o755".
func ParsePerm(s string, def os.FileMode) (os.FileMode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0o"), "0O")
	u, err := strconv.ParseUint(digits, 8, 32)
	if err != nil || u > 0o777 {
		return 0, fmt.Errorf("invalid permission %q", s)
	}
	return os.FileMode(u), nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
