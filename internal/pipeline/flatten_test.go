package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/normalize"
	"github.com/trobanga/rythmiq/internal/pipeline"
)

func flatten(t *testing.T, text string) models.Fields {
	t.Helper()
	normalized, err := normalize.Normalize(text, models.DefaultNormalizeOptions())
	require.NoError(t, err)
	return pipeline.FlattenLines(normalized)
}

func TestFlattenLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.Fields
	}{
		{
			name: "key value lines",
			text: "Invoice Number: INV-100\r\nDate:2026-01-01",
			want: models.Fields{"invoice_number": {"INV-100"}, "date": {"2026-01-01"}},
		},
		{
			name: "split on first colon only",
			text: "time: 10:30",
			want: models.Fields{"time": {"10:30"}},
		},
		{
			name: "repeated key keeps every value",
			text: "item: a\n\nitem: b",
			want: models.Fields{"item": {"a", "b"}},
		},
		{
			name: "lines without a pair are skipped",
			text: "ACME Corp\n: orphan value\nempty:   \nnote: ok",
			want: models.Fields{"note": {"ok"}},
		},
		{
			name: "nothing to flatten",
			text: "",
			want: models.Fields{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flatten(t, tt.text))
		})
	}
}
