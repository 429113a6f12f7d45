package signals

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Source loads the definition table from its backing store.
type Source interface {
	Load(ctx context.Context) ([]Definition, error)
}

// StaticSource serves a fixed slice of definitions.
type StaticSource []Definition

// Load returns a copy of the static definitions.
func (s StaticSource) Load(context.Context) ([]Definition, error) {
	out := make([]Definition, len(s))
	copy(out, s)
	return out, nil
}

// maxDefinitionFileSize bounds definition files read from disk.
const maxDefinitionFileSize = 1024 * 1024

// FileSource reads definitions from a YAML or TOML file. Both formats use
// a top-level "definitions" list.
type FileSource struct {
	Path string
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: filepath.Clean(path)}
}

// Load reads and parses the file.
func (f *FileSource) Load(ctx context.Context) ([]Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, fmt.Errorf("stat definitions file: %w", err)
	}
	if info.Size() > maxDefinitionFileSize {
		return nil, fmt.Errorf("definitions file %s exceeds %d bytes", f.Path, maxDefinitionFileSize)
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".toml":
		return parseTOML(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported definitions file type: %s", f.Path)
	}
}

func parseTOML(data []byte) ([]Definition, error) {
	var doc struct {
		Definitions []Definition `toml:"definitions"`
	}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return doc.Definitions, nil
}

func parseYAML(data []byte) ([]Definition, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	var defs []Definition
	if err := k.UnmarshalWithConf("definitions", &defs, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return defs, nil
}
