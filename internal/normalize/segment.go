package normalize

import (
	"unicode"

	"github.com/trobanga/rythmiq/internal/models"
)

// segment partitions normalized text at line breaks. Each text run becomes a
// line (or whitespace when blank), each run of breaks becomes a whitespace
// segment, or a paragraph when it stands for two or more breaks, either
// still present or collapsed away from the input.
func segment(buf buffer, input []rune) []models.TextSegment {
	var segments []models.TextSegment
	n := len(buf.runes)

	for i := 0; i < n; {
		j := i
		if buf.runes[i] == '\n' {
			for j < n && buf.runes[j] == '\n' {
				j++
			}
			origStart := buf.origin[i]
			origEnd := len(input)
			if j < n {
				origEnd = buf.origin[j]
			}

			kind := models.SegmentWhitespace
			if j-i >= 2 || countBreaks(input[origStart:origEnd]) >= 2 {
				kind = models.SegmentParagraph
			}
			segments = append(segments, models.TextSegment{
				Type:          kind,
				Text:          string(buf.runes[i:j]),
				Start:         i,
				End:           j,
				OriginalStart: origStart,
				OriginalEnd:   origEnd,
			})
			i = j
			continue
		}

		blank := true
		for j < n && buf.runes[j] != '\n' {
			if !unicode.IsSpace(buf.runes[j]) {
				blank = false
			}
			j++
		}
		kind := models.SegmentLine
		if blank {
			kind = models.SegmentWhitespace
		}
		segments = append(segments, models.TextSegment{
			Type:          kind,
			Text:          string(buf.runes[i:j]),
			Start:         i,
			End:           j,
			OriginalStart: buf.origin[i],
			OriginalEnd:   buf.origin[j-1] + 1,
		})
		i = j
	}

	return segments
}

// countBreaks counts line breaks, reading \r\n as one
func countBreaks(rs []rune) int {
	count := 0
	for i, r := range rs {
		switch r {
		case '\n':
			count++
		case '\r':
			if i+1 >= len(rs) || rs[i+1] != '\n' {
				count++
			}
		}
	}
	return count
}
