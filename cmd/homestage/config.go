//go:build linux

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/samber/lo"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/homestage/homestage"
)

// Config errors.
var (
	// ErrDuplicateConfigFiles is returned when both .json and .jsonc config files exist.
	ErrDuplicateConfigFiles = errors.New("duplicate config files")
	// ErrUnknownConfigKey is returned for keys the staging policy does not read.
	ErrUnknownConfigKey = errors.New("unknown config key")
	// ErrInvalidConfigValue is returned when a key is not set to true or false.
	ErrInvalidConfigValue = errors.New("config value must be a boolean")
)

// EnvConfigDir overrides the directory searched for homestage.json(c).
const EnvConfigDir = "HOMESTAGE_CONFIG_DIR"

// Set via -ldflags for packaged builds.
var defaultConfigDir = "/usr/local/etc/homestage"

var knownConfigKeys = []string{homestage.KeyMountHome, homestage.KeyUserBindControl}

// ConfigSource records who chose where the configuration was looked up.
type ConfigSource int

const (
	// ConfigSourceSystem is the compiled-in directory.
	ConfigSourceSystem ConfigSource = iota
	// ConfigSourceEnv is $HOMESTAGE_CONFIG_DIR.
	ConfigSourceEnv
	// ConfigSourceFlag is --config.
	ConfigSourceFlag
)

func (s ConfigSource) String() string {
	switch s {
	case ConfigSourceSystem:
		return "system"
	case ConfigSourceEnv:
		return EnvConfigDir
	case ConfigSourceFlag:
		return "--config"
	default:
		return fmt.Sprintf("ConfigSource(%d)", int(s))
	}
}

// FileConfig is a [homestage.ConfigStore] backed by a JSONC file.
//
// Keys use the administrator-facing names, e.g.
//
//	{
//	  // default true
//	  "mount home": true,
//	  "user bind control": false
//	}
type FileConfig struct {
	path   string
	source ConfigSource
	values map[string]bool
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	ConfigPath string            // --config flag value
	Env        map[string]string // Environment variables (for HOMESTAGE_CONFIG_DIR)
}

// LoadConfig finds and parses the configuration file:
//   - --config path if given; it must exist
//   - otherwise homestage.json or homestage.jsonc in $HOMESTAGE_CONFIG_DIR,
//     falling back to the compiled-in directory
//
// A missing default file is not an error; every key then takes its
// default. If both .json and .jsonc exist, it's an error.
func LoadConfig(input LoadConfigInput) (*FileConfig, error) {
	path := input.ConfigPath
	source := ConfigSourceFlag

	if path == "" {
		dir := defaultConfigDir
		source = ConfigSourceSystem

		if override := input.Env[EnvConfigDir]; override != "" {
			dir = override
			source = ConfigSourceEnv
		}

		found, err := findConfigFile(filepath.Join(dir, "homestage"))
		if errors.Is(err, os.ErrNotExist) {
			return &FileConfig{source: source, values: map[string]bool{}}, nil
		}

		if err != nil {
			return nil, err
		}

		path = found
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	values, err := loadConfigFile(path)
	if err != nil {
		return nil, err
	}

	return &FileConfig{path: path, source: source, values: values}, nil
}

// Path returns the loaded file, or "" when running on defaults.
func (c *FileConfig) Path() string {
	return c.path
}

// Source reports how the config location was chosen.
func (c *FileConfig) Source() ConfigSource {
	return c.source
}

// Rewind re-reads the file. On error the previous values stay in effect.
func (c *FileConfig) Rewind() error {
	if c.path == "" {
		return nil
	}

	values, err := loadConfigFile(c.path)
	if err != nil {
		return err
	}

	c.values = values

	return nil
}

// Bool implements [homestage.ConfigStore].
func (c *FileConfig) Bool(key string, def bool) bool {
	v, ok := c.values[key]
	if !ok {
		return def
	}

	return v
}

// Has reports whether key is set in the file.
func (c *FileConfig) Has(key string) bool {
	_, ok := c.values[key]

	return ok
}

// Keys returns the keys set in the file, sorted.
func (c *FileConfig) Keys() []string {
	keys := lo.Keys(c.values)
	slices.Sort(keys)

	return keys
}

// findConfigFile checks basePath+".json" and basePath+".jsonc" and returns
// the one that exists, os.ErrNotExist if neither does.
func findConfigFile(basePath string) (string, error) {
	jsonPath := basePath + ".json"
	jsoncPath := basePath + ".jsonc"

	jsonExists, err := fileExists(jsonPath)
	if err != nil {
		return "", err
	}

	jsoncExists, err := fileExists(jsoncPath)
	if err != nil {
		return "", err
	}

	switch {
	case jsonExists && jsoncExists:
		return "", fmt.Errorf("%w: both %s and %s exist; remove one", ErrDuplicateConfigFiles, jsonPath, jsoncPath)
	case jsonExists:
		return jsonPath, nil
	case jsoncExists:
		return jsoncPath, nil
	default:
		return "", os.ErrNotExist
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("checking file %s: %w", path, err)
	}

	return !info.IsDir(), nil
}

// loadConfigFile parses a JSONC object of boolean settings. Unknown keys
// and non-boolean values are rejected, all of them reported at once.
func loadConfigFile(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var raw map[string]json.RawMessage

	err = json.Unmarshal(standardized, &raw)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	values := make(map[string]bool, len(raw))

	var errs []error

	keys := lo.Keys(raw)
	slices.Sort(keys)

	for _, key := range keys {
		if !lo.Contains(knownConfigKeys, key) {
			errs = append(errs, fmt.Errorf("%w %q", ErrUnknownConfigKey, key))

			continue
		}

		var v bool

		err = json.Unmarshal(raw[key], &v)
		if err != nil || string(raw[key]) == "null" {
			errs = append(errs, fmt.Errorf("%w: %q is %s", ErrInvalidConfigValue, key, raw[key]))

			continue
		}

		values[key] = v
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config %s: %w", path, errors.Join(errs...))
	}

	return values, nil
}
