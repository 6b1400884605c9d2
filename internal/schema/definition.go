package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/trobanga/rythmiq/internal/models"
)

var (
	// ErrInvalidDefinition is wrapped by every ParseDefinition failure
	ErrInvalidDefinition = errors.New("invalid schema definition")

	// ErrSchemaNotFound is wrapped by schema providers when no definition matches
	ErrSchemaNotFound = errors.New("schema not found")
)

//go:embed definition.schema.json
var definitionSchemaJSON []byte

var (
	definitionSchemaOnce sync.Once
	definitionSchema     *jsonschema.Schema
	definitionSchemaErr  error
)

func compiledDefinitionSchema() (*jsonschema.Schema, error) {
	definitionSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("definition.schema.json", bytes.NewReader(definitionSchemaJSON)); err != nil {
			definitionSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		definitionSchema, definitionSchemaErr = compiler.Compile("definition.schema.json")
	})
	return definitionSchema, definitionSchemaErr
}

// definitionDoc is the JSON shape of a schema definition
type definitionDoc struct {
	Name   string              `json:"name"`
	Fields map[string]fieldDoc `json:"fields"`
}

type fieldDoc struct {
	SourceFields []string `json:"sourceFields"`
	Required     bool     `json:"required"`
	Confidence   *float64 `json:"confidence"`
	Transform    string   `json:"transform"`
	Validate     string   `json:"validate"`
	Pattern      string   `json:"pattern"`
}

// ParseDefinition validates a JSON schema definition and resolves its named
// transforms and validators against reg. Source field names are normalized
// the same way flattened keys are.
func ParseDefinition(data []byte, reg *Registry) (models.SchemaDefinition, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}

	sch, err := compiledDefinitionSchema()
	if err != nil {
		return models.SchemaDefinition{}, fmt.Errorf("compile definition schema: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.SchemaDefinition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := sch.Validate(raw); err != nil {
		return models.SchemaDefinition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	var doc definitionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.SchemaDefinition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	def := models.SchemaDefinition{
		Name:   doc.Name,
		Fields: make(map[string]models.FieldRule, len(doc.Fields)),
	}
	for name, fd := range doc.Fields {
		rule, err := buildRule(fd, reg)
		if err != nil {
			return models.SchemaDefinition{}, fmt.Errorf("%w: field %s: %v", ErrInvalidDefinition, name, err)
		}
		def.Fields[name] = rule
	}
	return def, nil
}

func buildRule(fd fieldDoc, reg *Registry) (models.FieldRule, error) {
	rule := models.FieldRule{
		Required:   fd.Required,
		Confidence: 1.0,
	}
	if fd.Confidence != nil {
		rule.Confidence = *fd.Confidence
	}

	for _, src := range fd.SourceFields {
		key := NormalizeKey(src)
		if key == "" {
			return rule, fmt.Errorf("blank source field %q", src)
		}
		rule.SourceFields = append(rule.SourceFields, key)
	}

	if fd.Transform != "" {
		fn, ok := reg.Transform(fd.Transform)
		if !ok {
			return rule, fmt.Errorf("unknown transform %q", fd.Transform)
		}
		rule.Transform = fn
	}

	var checks []models.ValidateFunc
	if fd.Validate != "" {
		fn, ok := reg.Validator(fd.Validate)
		if !ok {
			return rule, fmt.Errorf("unknown validator %q", fd.Validate)
		}
		checks = append(checks, fn)
	}
	if fd.Pattern != "" {
		re, err := regexp.Compile(fd.Pattern)
		if err != nil {
			return rule, fmt.Errorf("bad pattern: %w", err)
		}
		checks = append(checks, func(v any) (bool, error) {
			return re.MatchString(fmt.Sprint(v)), nil
		})
	}
	switch len(checks) {
	case 0:
	case 1:
		rule.Validate = checks[0]
	default:
		rule.Validate = allOf(checks)
	}

	return rule, nil
}

func allOf(checks []models.ValidateFunc) models.ValidateFunc {
	return func(v any) (bool, error) {
		for _, check := range checks {
			ok, err := check(v)
			if err != nil || !ok {
				return ok, err
			}
		}
		return true, nil
	}
}

// NormalizeKey lowercases a key, trims it and turns inner whitespace runs into underscores:
// "Invoice Number" -> "invoice_number"
func NormalizeKey(key string) string {
	fields := strings.FieldsFunc(strings.ToLower(key), unicode.IsSpace)
	return strings.Join(fields, "_")
}
