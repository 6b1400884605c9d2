package schema_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/schema"
)

const invoiceJSON = `{
  "name": "invoice",
  "fields": {
    "invoiceNumber": {"sourceFields": ["Invoice Number", "invoice_no"], "required": true, "transform": "trim", "pattern": "^INV-"},
    "date": {"sourceFields": ["date"], "required": true, "validate": "iso_date"},
    "total": {"sourceFields": ["total", "amount"], "required": true, "confidence": 0.9, "transform": "amount", "validate": "decimal"},
    "vendor": {"sourceFields": ["vendor"]}
  }
}`

func TestParseDefinition(t *testing.T) {
	def, err := schema.ParseDefinition([]byte(invoiceJSON), schema.DefaultRegistry())
	require.NoError(t, err)

	assert.Equal(t, "invoice", def.Name)
	require.Len(t, def.Fields, 4)

	inv := def.Fields["invoiceNumber"]
	assert.Equal(t, []string{"invoice_number", "invoice_no"}, inv.SourceFields)
	assert.True(t, inv.Required)
	assert.Equal(t, 1.0, inv.Confidence, "confidence defaults to 1")
	assert.NotNil(t, inv.Transform)
	assert.NotNil(t, inv.Validate)

	total := def.Fields["total"]
	assert.Equal(t, 0.9, total.Confidence)

	vendor := def.Fields["vendor"]
	assert.False(t, vendor.Required)
	assert.Nil(t, vendor.Transform)
	assert.Nil(t, vendor.Validate)
}

func TestParseDefinition_EndToEndTransform(t *testing.T) {
	def, err := schema.ParseDefinition([]byte(invoiceJSON), nil)
	require.NoError(t, err)
	tr := schema.NewTransformer(def)

	ok := tr.Transform(fields("invoice_number", " INV-7 ", "date", "2026-02-03", "amount", "$1,204.50"))
	assert.Equal(t, models.OutcomeSuccess, ok.Outcome)
	assert.Equal(t, "INV-7", ok.Structured["invoiceNumber"])
	assert.Equal(t, "1204.50", ok.Structured["total"])
	assert.Equal(t, 0.45, ok.Confidence["total"], "one of two source fields contributed")

	badPattern := tr.Transform(fields("invoice_number", "X-7", "date", "2026-02-03", "total", "5"))
	assert.Equal(t, models.OutcomeTransformError, badPattern.Outcome)

	badDate := tr.Transform(fields("invoice_number", "INV-7", "date", "03/02/2026", "total", "5"))
	assert.Equal(t, models.OutcomeTransformError, badDate.Outcome)
	require.Len(t, badDate.Errors, 1)
	assert.Equal(t, "date", badDate.Errors[0].Field)
}

func TestParseDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"name":`},
		{"missing name", `{"fields": {"a": {"sourceFields": ["a"]}}}`},
		{"no fields", `{"name": "x", "fields": {}}`},
		{"empty source list", `{"name": "x", "fields": {"a": {"sourceFields": []}}}`},
		{"confidence above one", `{"name": "x", "fields": {"a": {"sourceFields": ["a"], "confidence": 1.5}}}`},
		{"unknown rule key", `{"name": "x", "fields": {"a": {"sourceFields": ["a"], "guess": true}}}`},
		{"unknown transform", `{"name": "x", "fields": {"a": {"sourceFields": ["a"], "transform": "magic"}}}`},
		{"unknown validator", `{"name": "x", "fields": {"a": {"sourceFields": ["a"], "validate": "magic"}}}`},
		{"bad pattern", `{"name": "x", "fields": {"a": {"sourceFields": ["a"], "pattern": "("}}}`},
		{"blank source field", `{"name": "x", "fields": {"a": {"sourceFields": ["   "]}}}`},
		{"bad field name", `{"name": "x", "fields": {"total amount": {"sourceFields": ["a"]}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.ParseDefinition([]byte(tt.doc), schema.DefaultRegistry())
			require.Error(t, err)
			assert.True(t, errors.Is(err, schema.ErrInvalidDefinition))
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := map[string]string{
		"invoice_number":    "invoice_number",
		"Invoice Number":    "invoice_number",
		"  Total   Due\t ":  "total_due",
		"DATE":              "date",
		"":                  "",
		"   ":               "",
		"invoice__number":   "invoice__number",
	}
	for in, want := range tests {
		assert.Equal(t, want, schema.NormalizeKey(in), "input %q", in)
	}
}
