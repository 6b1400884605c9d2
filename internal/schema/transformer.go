// Package schema maps flattened key/value fields onto a declared output schema.
package schema

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/trobanga/rythmiq/internal/models"
)

// Transformer applies one resolved SchemaDefinition. It holds no other state,
// so the same input always produces the same result.
type Transformer struct {
	def    models.SchemaDefinition
	fields []string // target fields in sorted order
}

// NewTransformer creates a Transformer for def
func NewTransformer(def models.SchemaDefinition) *Transformer {
	names := make([]string, 0, len(def.Fields))
	for name := range def.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Transformer{def: def, fields: names}
}

// Name returns the schema name
func (t *Transformer) Name() string {
	return t.def.Name
}

// fieldResult is the outcome of applying one rule
type fieldResult struct {
	value      any
	confidence float64
	applied    bool
	missing    bool
	skipped    bool
	ambiguity  *models.Ambiguity
	err        *models.FieldError
}

// Transform maps input onto the schema. Failures of individual fields are
// reported in the result; Transform itself never fails.
func (t *Transformer) Transform(input models.Fields) models.TransformResult {
	result := models.TransformResult{
		Structured: map[string]any{},
		Confidence: map[string]float64{},
		Missing:    []string{},
		Ambiguous:  []models.Ambiguity{},
		Errors:     []models.FieldError{},
	}

	requiredMissing := false
	requiredAmbiguous := false

	for _, name := range t.fields {
		rule := t.def.Fields[name]
		fr := applyRule(name, rule, input)

		switch {
		case fr.err != nil:
			result.Errors = append(result.Errors, *fr.err)
		case fr.missing:
			result.Missing = append(result.Missing, name)
			requiredMissing = true
		case fr.skipped:
			result.Confidence[name] = 0
		case fr.ambiguity != nil:
			result.Ambiguous = append(result.Ambiguous, *fr.ambiguity)
			if fr.ambiguity.Kind == models.AmbiguousRequired {
				requiredAmbiguous = true
			}
		case fr.applied:
			result.Structured[name] = fr.value
			result.Confidence[name] = fr.confidence
		}
	}

	// Worst first: errors, then missing, then ambiguous
	switch {
	case len(result.Errors) > 0:
		result.Outcome = models.OutcomeTransformError
	case requiredMissing:
		result.Outcome = models.OutcomeMissingRequiredField
	case requiredAmbiguous:
		result.Outcome = models.OutcomeAmbiguousField
	default:
		result.Outcome = models.OutcomeSuccess
	}

	return result
}

func applyRule(name string, rule models.FieldRule, input models.Fields) fieldResult {
	var values []string
	contributed := 0
	for _, key := range rule.SourceFields {
		vs := input[key]
		if len(vs) == 0 {
			continue
		}
		contributed++
		values = append(values, vs...)
	}

	if len(values) == 0 {
		if rule.Required {
			return fieldResult{missing: true}
		}
		return fieldResult{skipped: true}
	}

	// Several raw values and nothing declared to reconcile them
	if rule.Transform == nil && len(values) > len(rule.SourceFields) {
		kind := models.AmbiguousOptional
		if rule.Required {
			kind = models.AmbiguousRequired
		}
		return fieldResult{ambiguity: &models.Ambiguity{
			Field:      name,
			Kind:       kind,
			Candidates: values,
		}}
	}

	value, err := apply(rule, values)
	if err != nil {
		return fieldResult{err: &models.FieldError{Field: name, Reason: err.Error()}}
	}

	confidence := rule.Confidence
	if contributed < len(rule.SourceFields) {
		confidence /= 2
	}
	return fieldResult{value: value, confidence: confidence, applied: true}
}

// apply runs the rule's transform and validator, turning panics into errors
func apply(rule models.FieldRule, values []string) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if rule.Transform != nil {
		value, err = rule.Transform(values)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
	} else if len(values) == 1 {
		value = values[0]
	} else {
		value = strings.Join(values, " ")
	}

	if rule.Validate != nil {
		ok, verr := rule.Validate(value)
		if verr != nil {
			return nil, fmt.Errorf("validate: %w", verr)
		}
		if !ok {
			return nil, errors.New("validate: value rejected")
		}
	}

	return value, nil
}

// QualityScore is the mean per-field confidence rounded to two decimals; 0 when there are no fields
func QualityScore(result models.TransformResult) float64 {
	if len(result.Confidence) == 0 {
		return 0
	}
	names := make([]string, 0, len(result.Confidence))
	for name := range result.Confidence {
		names = append(names, name)
	}
	sort.Strings(names)

	sum := 0.0
	for _, name := range names {
		sum += result.Confidence[name]
	}
	mean := sum / float64(len(names))
	return math.Round(mean*100) / 100
}
