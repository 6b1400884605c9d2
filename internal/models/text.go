package models

// SegmentType classifies a slice of normalized text
type SegmentType string

const (
	SegmentLine       SegmentType = "line"
	SegmentParagraph  SegmentType = "paragraph"
	SegmentWhitespace SegmentType = "whitespace"
)

// OffsetPair links one normalized character back to the input character it came from.
// Offsets are rune indices.
type OffsetPair struct {
	Original   int `json:"original"`
	Normalized int `json:"normalized"`
}

// TextSegment is a contiguous run of normalized text. Start/End are in
// normalized coordinates, OriginalStart/OriginalEnd in input coordinates
// (all half-open, rune indices).
type TextSegment struct {
	Type          SegmentType `json:"type"`
	Text          string      `json:"text"`
	Start         int         `json:"start"`
	End           int         `json:"end"`
	OriginalStart int         `json:"original_start"`
	OriginalEnd   int         `json:"original_end"`
}

// NormalizedText is the output of text normalization
type NormalizedText struct {
	Text      string        `json:"text"`
	OffsetMap []OffsetPair  `json:"offset_map"`
	Segments  []TextSegment `json:"segments"`
}

// Lines returns the line segments in order
func (n NormalizedText) Lines() []TextSegment {
	var lines []TextSegment
	for _, seg := range n.Segments {
		if seg.Type == SegmentLine {
			lines = append(lines, seg)
		}
	}
	return lines
}

// NormalizeOptions toggles the individual normalization steps
type NormalizeOptions struct {
	Unicode            bool `yaml:"unicode" json:"unicode"`                           // NFC canonical composition
	StripInvisible     bool `yaml:"strip_invisible" json:"strip_invisible"`           // Zero-width, BOM and control characters
	LineEndings        bool `yaml:"line_endings" json:"line_endings"`                 // \r\n and lone \r become \n
	CollapseBlankLines bool `yaml:"collapse_blank_lines" json:"collapse_blank_lines"` // Runs of line breaks become one
	CollapseWhitespace bool `yaml:"collapse_whitespace" json:"collapse_whitespace"`   // Runs of spaces/tabs become one space
	Trim               bool `yaml:"trim" json:"trim"`
}

// DefaultNormalizeOptions returns every step enabled except trimming
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		Unicode:            true,
		StripInvisible:     true,
		LineEndings:        true,
		CollapseBlankLines: true,
		CollapseWhitespace: true,
		Trim:               false,
	}
}
