// Package config loads the Atlas configuration from YAML or JSON5 files,
// expanding ${ENV} references and resolving $include directives.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// LoadRaw reads a config file into one merged raw map. Included files are
// read first, so the including file's own keys win on conflict. A file that
// includes itself, directly or through a chain, is an error.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	loader := &rawLoader{visiting: map[string]bool{}}
	return loader.load(path)
}

// rawLoader tracks the include chain currently being resolved.
type rawLoader struct {
	visiting map[string]bool
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if l.visiting[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	l.visiting[abs] = true
	defer delete(l.visiting, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	// ${ENV} expansion happens on the raw text, before parsing, so env
	// values can appear anywhere including inside include paths.
	doc, err := decodeDocument([]byte(os.ExpandEnv(string(data))), abs)
	if err != nil {
		return nil, err
	}

	includes, err := takeIncludes(doc)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		child, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, child)
	}
	return deepMerge(merged, doc), nil
}

// decodeDocument parses one config document, picking the codec from the
// file extension. Anything that is not .json/.json5 is treated as YAML.
func decodeDocument(data []byte, path string) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("failed to parse config: expected single document")
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// takeIncludes removes the $include key from doc and returns its paths.
func takeIncludes(doc map[string]any) ([]string, error) {
	value, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, entry := range v {
			path, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			paths = append(paths, path)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("include must be a string or list of strings")
	}
}

// deepMerge overlays src on dst. Nested maps merge key by key; any other
// value in src replaces the dst value wholesale.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = deepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig converts a merged raw map into a typed Config. Unknown
// keys are rejected so a typo'd section name fails loudly.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
