package services_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/rythmiq/internal/schema"
	"github.com/trobanga/rythmiq/internal/services"
)

const invoiceYAML = `
name: invoice
fields:
  invoice_number:
    sourceFields: [invoice_number]
    required: true
  total:
    sourceFields: [total, amount_due]
    transform: amount
    confidence: 0.9
`

func writeSchemaFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestFileSchemaProvider_YAMLIsConvertedToJSON(t *testing.T) {
	dir := writeSchemaFiles(t, map[string]string{"invoice@1.yaml": invoiceYAML})
	provider := services.NewFileSchemaProvider(dir)

	doc, err := provider.GetSchema(context.Background(), "invoice", "1")
	require.NoError(t, err)
	assert.Equal(t, "invoice", doc.ID)
	assert.Equal(t, "1", doc.Version)

	// The converted document parses as a definition
	def, err := schema.ParseDefinition(doc.Definition, nil)
	require.NoError(t, err)
	assert.Equal(t, "invoice", def.Name)
	assert.Len(t, def.Fields, 2)
	assert.InDelta(t, 0.9, def.Fields["total"].Confidence, 1e-9)
}

func TestFileSchemaProvider_LatestVersion(t *testing.T) {
	dir := writeSchemaFiles(t, map[string]string{
		"invoice@2.json":  `{"name":"v2","fields":{"a":{"sourceFields":["a"]}}}`,
		"invoice@10.json": `{"name":"v10","fields":{"a":{"sourceFields":["a"]}}}`,
		"invoice@9.yml":   "name: v9\nfields:\n  a:\n    sourceFields: [a]\n",
		"receipt@99.json": `{"name":"receipt","fields":{"a":{"sourceFields":["a"]}}}`,
	})
	provider := services.NewFileSchemaProvider(dir)

	versions, err := provider.Versions("invoice")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "9", "10"}, versions, "Numeric parts compare by value")

	doc, err := provider.GetSchema(context.Background(), "invoice", "")
	require.NoError(t, err)
	assert.Equal(t, "10", doc.Version)
	assert.Contains(t, string(doc.Definition), `"v10"`)
}

func TestFileSchemaProvider_NotFound(t *testing.T) {
	dir := writeSchemaFiles(t, map[string]string{"invoice@1.yaml": invoiceYAML})
	provider := services.NewFileSchemaProvider(dir)
	ctx := context.Background()

	tests := []struct {
		name     string
		schemaID string
		version  string
	}{
		{"unknown id", "receipt", ""},
		{"unknown version", "invoice", "2"},
		{"path traversal", "../invoice", "1"},
		{"unsafe version", "invoice", "../1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := provider.GetSchema(ctx, tt.schemaID, tt.version)
			assert.ErrorIs(t, err, schema.ErrSchemaNotFound)
		})
	}
}

func TestFileSchemaProvider_MissingDirectory(t *testing.T) {
	provider := services.NewFileSchemaProvider(filepath.Join(t.TempDir(), "nope"))

	_, err := provider.GetSchema(context.Background(), "invoice", "")
	assert.ErrorIs(t, err, schema.ErrSchemaNotFound)
}

func TestFileSchemaProvider_BrokenYAML(t *testing.T) {
	dir := writeSchemaFiles(t, map[string]string{"invoice@1.yaml": "fields: [unclosed"})
	provider := services.NewFileSchemaProvider(dir)

	_, err := provider.GetSchema(context.Background(), "invoice", "1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, schema.ErrSchemaNotFound)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}
