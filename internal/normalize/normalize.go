// Package normalize cleans extracted text while keeping a mapping from every
// output character back to the input character it came from.
package normalize

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
)

// buffer is the (text, offsetMap) pair threaded through the steps.
// origin[i] is the input rune index that runes[i] derives from.
type buffer struct {
	runes  []rune
	origin []int
}

func (b *buffer) push(r rune, origin int) {
	b.runes = append(b.runes, r)
	b.origin = append(b.origin, origin)
}

// step consumes one buffer and builds a new one
type step func(in buffer) buffer

// Normalizer applies a fixed set of normalization steps
type Normalizer struct {
	steps []step
}

// New creates a Normalizer for the given options
func New(opts models.NormalizeOptions) *Normalizer {
	n := &Normalizer{}
	if opts.Unicode {
		n.steps = append(n.steps, composeNFC)
	}
	if opts.StripInvisible {
		n.steps = append(n.steps, stripInvisible)
	}
	if opts.LineEndings {
		n.steps = append(n.steps, canonicalLineEndings)
	}
	if opts.CollapseWhitespace {
		n.steps = append(n.steps, collapseSpaces)
	}
	if opts.CollapseBlankLines {
		n.steps = append(n.steps, collapseBreaks)
	}
	if opts.Trim {
		n.steps = append(n.steps, trim)
	}
	return n
}

// Normalize runs text through a Normalizer built from opts
func Normalize(text string, opts models.NormalizeOptions) (models.NormalizedText, error) {
	return New(opts).Normalize(text)
}

// NormalizeBytes decodes UTF-8 bytes and normalizes them
func (n *Normalizer) NormalizeBytes(data []byte) (models.NormalizedText, error) {
	if !utf8.Valid(data) {
		return models.NormalizedText{}, lib.ErrNormalizeFailed("input is not valid UTF-8")
	}
	return n.Normalize(string(data))
}

// Normalize cleans text and segments the result. Input that is not valid
// UTF-8 fails with NORMALIZE_FAILED.
func (n *Normalizer) Normalize(text string) (models.NormalizedText, error) {
	if !utf8.ValidString(text) {
		return models.NormalizedText{}, lib.ErrNormalizeFailed("input is not valid UTF-8")
	}

	input := []rune(text)
	buf := buffer{
		runes:  input,
		origin: make([]int, len(input)),
	}
	for i := range buf.origin {
		buf.origin[i] = i
	}

	for _, s := range n.steps {
		buf = s(buf)
	}

	offsets := make([]models.OffsetPair, len(buf.runes))
	for i, o := range buf.origin {
		offsets[i] = models.OffsetPair{Original: o, Normalized: i}
	}

	return models.NormalizedText{
		Text:      string(buf.runes),
		OffsetMap: offsets,
		Segments:  segment(buf, input),
	}, nil
}

// composeNFC applies canonical composition one normalization segment at a time.
// Output rune k of a segment maps to input rune k of the same segment, clamped
// to the segment's last rune, so a composed character keeps its base's offset.
func composeNFC(in buffer) buffer {
	out := buffer{
		runes:  make([]rune, 0, len(in.runes)),
		origin: make([]int, 0, len(in.origin)),
	}

	s := string(in.runes)
	pos, runeIdx := 0, 0
	for pos < len(s) {
		end := norm.NFC.NextBoundaryInString(s[pos:], true)
		if end <= 0 {
			end = len(s) - pos
		}
		seg := s[pos : pos+end]
		segLen := utf8.RuneCountInString(seg)

		k := 0
		for _, r := range norm.NFC.String(seg) {
			src := k
			if src >= segLen {
				src = segLen - 1
			}
			out.push(r, in.origin[runeIdx+src])
			k++
		}
		pos += end
		runeIdx += segLen
	}
	return out
}

var zeroWidth = map[rune]bool{
	'\u200B': true, // zero width space
	'\u200C': true, // zero width non-joiner
	'\u200D': true, // zero width joiner
	'\u2060': true, // word joiner
	'\uFEFF': true, // byte order mark
}

// stripInvisible drops zero-width characters and control characters other than tab and line breaks
func stripInvisible(in buffer) buffer {
	var out buffer
	for i, r := range in.runes {
		if zeroWidth[r] {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		out.push(r, in.origin[i])
	}
	return out
}

// canonicalLineEndings turns \r\n and lone \r into \n
func canonicalLineEndings(in buffer) buffer {
	var out buffer
	for i := 0; i < len(in.runes); i++ {
		r := in.runes[i]
		if r == '\r' {
			out.push('\n', in.origin[i])
			if i+1 < len(in.runes) && in.runes[i+1] == '\n' {
				i++
			}
			continue
		}
		out.push(r, in.origin[i])
	}
	return out
}

// collapseSpaces turns each run of spaces and tabs into a single space
func collapseSpaces(in buffer) buffer {
	var out buffer
	inRun := false
	for i, r := range in.runes {
		if r == ' ' || r == '\t' {
			if !inRun {
				out.push(' ', in.origin[i])
			}
			inRun = true
			continue
		}
		inRun = false
		out.push(r, in.origin[i])
	}
	return out
}

// collapseBreaks turns each run of line breaks into a single break
func collapseBreaks(in buffer) buffer {
	var out buffer
	for i, r := range in.runes {
		if r == '\n' && i > 0 && in.runes[i-1] == '\n' {
			continue
		}
		out.push(r, in.origin[i])
	}
	return out
}

// trim drops leading and trailing whitespace
func trim(in buffer) buffer {
	start, end := 0, len(in.runes)
	for start < end && unicode.IsSpace(in.runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(in.runes[end-1]) {
		end--
	}
	return buffer{runes: in.runes[start:end], origin: in.origin[start:end]}
}
