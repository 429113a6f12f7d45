package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/vendorflow/internal/sanitize"
)

// EnvPrefix marks environment variables that override file settings.
const EnvPrefix = "VENDORFLOW_"

const maxFileSize = 1 << 20

// Load builds the configuration from Default(), then the YAML file at
// path, then VENDORFLOW_ environment variables, each layer overriding the
// one before. An empty path means ~/.config/vendorflow/config.yaml; a
// missing file is skipped.
//
// The file must live under ~/.config/vendorflow or /etc/vendorflow, be no
// larger than 1MB and be readable by its owner only (0600 or 0400).
//
// Environment keys drop the prefix and split once on "_":
//
//	VENDORFLOW_SERVER_HTTP_PORT              -> server.http_port
//	VENDORFLOW_DECISION_AUTO_APPLY_THRESHOLD -> decision.auto_apply_threshold
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "vendorflow", "config.yaml")
	}
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	data, err := readConfigFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if section, field, ok := strings.Cut(key, "_"); ok {
		return section + "." + field
	}
	return key
}

func configDirs() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locating home directory: %w", err)
	}
	return []string{filepath.Join(home, ".config", "vendorflow"), "/etc/vendorflow"}, nil
}

// validateConfigPath requires path, after resolving symlinks, to sit
// strictly inside one of configDirs.
func validateConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	dirs, err := configDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			dir = real
		}
		if abs == dir {
			continue
		}
		if _, err := sanitize.ValidatePath(abs, dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("config file %s must be under %s", path, strings.Join(dirs, " or "))
}

// readConfigFile checks mode and size on the open descriptor so the file
// checked is the file read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm != 0o600 && perm != 0o400 {
		return nil, fmt.Errorf("insecure config file permissions %v on %s, want 0600 or 0400", perm, path)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), maxFileSize)
	}
	return io.ReadAll(io.LimitReader(f, maxFileSize))
}
