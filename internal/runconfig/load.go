package runconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
)

// Overrides are applied on top of a base document, in order: overlay files
// first, then dotted key=value assignments.
type Overrides struct {
	Files []string
	Sets  []string
}

// Decode parses a YAML document without validating it.
func Decode(data []byte) (*RunConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &apperr.ConfigError{Reason: "empty configuration document"}
	}
	var cfg RunConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &apperr.ConfigError{Reason: "empty configuration document"}
		}
		return nil, &apperr.ConfigError{Task: peekTask(data), Reason: "invalid YAML", Err: err}
	}
	return &cfg, nil
}

// Parse decodes and validates a YAML document. The first violation is
// returned as an *apperr.ConfigError.
func Parse(data []byte) (*RunConfig, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads, decodes, and validates the configuration at path.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperr.ConfigError{Reason: "read " + path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	logf(path, "loaded %s configuration for %s", cfg.Model.TaskType, cfg.Model.ModelName)
	return cfg, nil
}

// LoadWithOverrides deep-merges overlays onto the base document, then decodes
// and validates the result. Keys the schema does not know are preserved.
func LoadWithOverrides(path string, ov Overrides) (*RunConfig, error) {
	data, err := MergeDocument(path, ov)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// MergeDocument returns the YAML of the base document at path with ov
// applied, without decoding it into a RunConfig.
func MergeDocument(path string, ov Overrides) ([]byte, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	for _, f := range ov.Files {
		overlay, err := readDocument(f)
		if err != nil {
			return nil, err
		}
		doc = Merge(doc, overlay)
		logf(path, "merged overlay %s", f)
	}
	if err := ApplySets(doc, ov.Sets); err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, &apperr.ConfigError{Reason: "re-encode merged document", Err: err}
	}
	return data, nil
}

func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperr.ConfigError{Reason: "read " + path, Err: err}
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &apperr.ConfigError{Task: peekTask(data), Reason: "invalid YAML in " + path, Err: err}
	}
	return doc, nil
}

// Merge deep-merges overlay into base and returns base. Nested mappings are
// merged key by key; any other overlay value replaces the base value.
func Merge(base, overlay map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	for k, ov := range overlay {
		ovMap, ovIsMap := ov.(map[string]any)
		bMap, bIsMap := base[k].(map[string]any)
		if ovIsMap && bIsMap {
			base[k] = Merge(bMap, ovMap)
			continue
		}
		base[k] = ov
	}
	return base
}

// ApplySets applies "dotted.key=value" assignments to doc. Values are parsed
// as YAML scalars or flow collections ("0.7", "true", "[0.5, 0.5, 0.5]").
// Missing or null intermediate keys become empty mappings.
func ApplySets(doc map[string]any, sets []string) error {
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return &apperr.ConfigError{Field: s, Reason: "override must look like key=value"}
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return &apperr.ConfigError{Field: key, Reason: "invalid override value", Err: err}
		}
		parts := strings.Split(key, ".")
		cur := doc
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				if v, exists := cur[p]; exists && v != nil {
					return &apperr.ConfigError{Field: key, Reason: fmt.Sprintf("%q is not a mapping", p)}
				}
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = value
	}
	return nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *RunConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes cfg to path, creating parent directories.
func Save(cfg *RunConfig, path string) error {
	data, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write configuration %s: %w", path, err)
	}
	logf(path, "saved %s configuration", cfg.Model.TaskType)
	return nil
}

// peekTask extracts model.task_type from a possibly invalid document so
// errors can name the task.
func peekTask(data []byte) string {
	var head struct {
		Model struct {
			TaskType string `yaml:"task_type"`
		} `yaml:"model"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Model.TaskType
}
