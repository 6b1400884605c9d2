package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/schema"
)

// schemaExtensions in lookup priority order
var schemaExtensions = []string{".yaml", ".yml", ".json"}

// FileSchemaProvider reads definitions named <id>@<version>.{yaml,yml,json}
// from one directory. YAML files are converted to JSON on read.
type FileSchemaProvider struct {
	dir string
}

// NewFileSchemaProvider creates a provider over dir
func NewFileSchemaProvider(dir string) *FileSchemaProvider {
	return &FileSchemaProvider{dir: dir}
}

// GetSchema returns the definition for id at version.
// An empty version selects the highest available one.
func (p *FileSchemaProvider) GetSchema(ctx context.Context, schemaID, version string) (*models.SchemaDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !models.IsSafeID(schemaID) || strings.Contains(schemaID, "@") {
		return nil, fmt.Errorf("%q: %w", schemaID, schema.ErrSchemaNotFound)
	}

	if version == "" {
		versions, err := p.Versions(schemaID)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, fmt.Errorf("%s: %w", schemaID, schema.ErrSchemaNotFound)
		}
		version = versions[len(versions)-1]
	}

	if !models.IsSafeID(version) {
		return nil, fmt.Errorf("%s@%s: %w", schemaID, version, schema.ErrSchemaNotFound)
	}

	for _, ext := range schemaExtensions {
		path := filepath.Join(p.dir, schemaID+"@"+version+ext)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
		}

		definition, err := toJSON(data, ext)
		if err != nil {
			return nil, fmt.Errorf("schema %s@%s: %w", schemaID, version, err)
		}
		return &models.SchemaDocument{ID: schemaID, Version: version, Definition: definition}, nil
	}

	return nil, fmt.Errorf("%s@%s: %w", schemaID, version, schema.ErrSchemaNotFound)
}

// Versions lists the versions available for id in natural order
func (p *FileSchemaProvider) Versions(schemaID string) ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read schema directory: %w", err)
	}

	seen := make(map[string]bool)
	prefix := schemaID + "@"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if !isSchemaExt(ext) || !strings.HasPrefix(name, prefix) {
			continue
		}
		if v := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext); v != "" {
			seen[v] = true
		}
	}

	versions := make([]string, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return naturalLess(versions[i], versions[j])
	})
	return versions, nil
}

func isSchemaExt(ext string) bool {
	for _, e := range schemaExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// toJSON converts a YAML definition to JSON; JSON passes through untouched
func toJSON(data []byte, ext string) ([]byte, error) {
	if ext == ".json" {
		return data, nil
	}
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
	}
	return out, nil
}

// naturalLess compares strings with embedded numbers by value, so "v10" sorts after "v9"
func naturalLess(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		if isDigit(ra[i]) && isDigit(rb[j]) {
			si := i
			for i < len(ra) && isDigit(ra[i]) {
				i++
			}
			sj := j
			for j < len(rb) && isDigit(rb[j]) {
				j++
			}
			na := strings.TrimLeft(string(ra[si:i]), "0")
			nb := strings.TrimLeft(string(rb[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}
		if ra[i] != rb[j] {
			return ra[i] < rb[j]
		}
		i++
		j++
	}
	if len(ra)-i != len(rb)-j {
		return len(ra)-i < len(rb)-j
	}
	return a < b
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
