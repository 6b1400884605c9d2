package pipeline

import (
	"strings"

	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/schema"
)

// FlattenLines turns "key: value" lines into fields. The line is split on its
// first colon, keys go through schema.NormalizeKey and values are trimmed.
// Lines without a colon, an empty key or an empty value are skipped. A key
// seen on several lines collects every value in order.
func FlattenLines(text models.NormalizedText) models.Fields {
	fields := make(models.Fields)
	for _, line := range text.Lines() {
		key, value, ok := strings.Cut(line.Text, ":")
		if !ok {
			continue
		}
		key = schema.NormalizeKey(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		fields.Add(key, value)
	}
	return fields
}
