// Package config loads dockflow project files from disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/initializ/dockflow/types"
	"github.com/tidwall/jsonc"
)

// DefaultFile is the project file name used when none is given.
const DefaultFile = "dockflow.yaml"

// Load reads and parses a project file. The format follows the extension:
// .yaml/.yml, .toml, or .json/.jsonc (comments and trailing commas allowed).
func Load(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dockflow config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", "":
		return types.ParseConfig(data)
	case ".toml":
		return ParseTOML(data)
	case ".json", ".jsonc":
		return ParseJSONC(data)
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .toml or .json)", ext)
	}
}

// ParseTOML parses a TOML project file.
func ParseTOML(data []byte) (*types.Config, error) {
	var cfg types.Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing dockflow config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing dockflow config: unknown key %q", undecoded[0].String())
	}
	return finish(&cfg)
}

// ParseJSONC parses a JSON project file, stripping comments and trailing
// commas first.
func ParseJSONC(data []byte) (*types.Config, error) {
	var cfg types.Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing dockflow config: %w", err)
	}
	return finish(&cfg)
}

func finish(cfg *types.Config) (*types.Config, error) {
	if err := cfg.CheckRequired(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Resolve turns a possibly relative config path into an absolute one.
func Resolve(path string) (string, error) {
	if path == "" {
		path = DefaultFile
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return filepath.Join(wd, path), nil
}
