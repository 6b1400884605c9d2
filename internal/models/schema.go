package models

// TransformFunc reduces the collected source values of one field to its output value
type TransformFunc func(values []string) (any, error)

// ValidateFunc checks a transformed value. A false result or an error fails the field.
type ValidateFunc func(value any) (bool, error)

// FieldRule maps one or more source keys onto a target field
type FieldRule struct {
	SourceFields []string      // Priority-ordered source keys
	Transform    TransformFunc // Optional; nil means default join
	Required     bool
	Confidence   float64 // In [0,1]
	Validate     ValidateFunc
}

// SchemaDefinition is an immutable, resolved output schema
type SchemaDefinition struct {
	Name   string
	Fields map[string]FieldRule // target field -> rule
}

// SchemaDocument is a schema as handed out by a schema provider, before parsing
type SchemaDocument struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Definition []byte `json:"definition"` // JSON
}

// Fields holds flattened key/value pairs; a key seen more than once has several values
type Fields map[string][]string

// Add appends a value under key
func (f Fields) Add(key, value string) {
	f[key] = append(f[key], value)
}

// TransformOutcome is the aggregate classification of a transform run
type TransformOutcome string

const (
	OutcomeSuccess              TransformOutcome = "SUCCESS"
	OutcomeMissingRequiredField TransformOutcome = "MISSING_REQUIRED_FIELD"
	OutcomeAmbiguousField       TransformOutcome = "AMBIGUOUS_FIELD"
	OutcomeTransformError       TransformOutcome = "TRANSFORM_ERROR"
)

// AmbiguityKind says whether an ambiguous field blocks the result
type AmbiguityKind string

const (
	AmbiguousRequired AmbiguityKind = "AMBIGUOUS_REQUIRED"
	AmbiguousOptional AmbiguityKind = "AMBIGUOUS_OPTIONAL"
)

// Ambiguity records a field with several candidate values and no rule to reconcile them
type Ambiguity struct {
	Field      string        `json:"field"`
	Kind       AmbiguityKind `json:"kind"`
	Candidates []string      `json:"candidates"`
}

// FieldError records a transform or validation failure for one field
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// TransformResult is the output of applying a schema to flattened fields
type TransformResult struct {
	Outcome    TransformOutcome   `json:"outcome"`
	Structured map[string]any     `json:"structured"`
	Confidence map[string]float64 `json:"confidence"`
	Missing    []string           `json:"missing"`
	Ambiguous  []Ambiguity        `json:"ambiguous"`
	Errors     []FieldError       `json:"errors"`
}
