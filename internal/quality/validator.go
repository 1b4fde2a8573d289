// Package quality judges whether converted markdown looks structurally broken.
package quality

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spherical/mdload/internal/domain"
)

var (
	tableRow      = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	tableSep      = regexp.MustCompile(`^\s*\|?\s*:?-{2,}.*\|?\s*$`)
	badTokens     = regexp.MustCompile(`(?i)(ocr[\s_-]?error|failed\s+ocr|illegible|###\s*table\s*failed)`)
	mentionsTable = regexp.MustCompile(`(?i)\btab(le|\.?)\b`)
)

// Heuristic is the default Validator. Zero-valued thresholds fall back to the
// defaults below.
type Heuristic struct {
	MinLength           int     // shorter texts are suspect
	MinDensity          float64 // alphanumeric share below which short texts are suspect
	DensityLengthCutoff int     // low density is tolerated at or above this length
	MaxReplacementChars int     // this many U+FFFD marks the text suspect
	MinPipeLines        int     // pipe-bearing lines without any table block
}

const (
	DefaultMinLength           = 80
	DefaultMinDensity          = 0.15
	DefaultDensityLengthCutoff = 4000
	DefaultMaxReplacementChars = 5
	DefaultMinPipeLines        = 5
)

// NewHeuristic returns a validator with default thresholds.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		MinLength:           DefaultMinLength,
		MinDensity:          DefaultMinDensity,
		DensityLengthCutoff: DefaultDensityLengthCutoff,
		MaxReplacementChars: DefaultMaxReplacementChars,
		MinPipeLines:        DefaultMinPipeLines,
	}
}

var _ domain.Validator = (*Heuristic)(nil)

// IsSuspect applies the checks in priority order; the first hit wins.
func (h *Heuristic) IsSuspect(md string) bool {
	return h.Reason(md) != ReasonNone
}

// Reason names the first check that flagged md, or ReasonNone.
func (h *Heuristic) Reason(md string) Reason {
	text := strings.TrimSpace(md)
	if text == "" {
		return ReasonEmpty
	}

	if badTokens.MatchString(text) {
		return ReasonFailureMarker
	}

	if strings.Count(text, "�") >= h.maxReplacementChars() {
		return ReasonReplacementChars
	}

	length := utf8.RuneCountInString(text)
	if alnumDensity(text, length) < h.minDensity() && length < h.densityLengthCutoff() {
		return ReasonLowDensity
	}

	if length < h.minLength() {
		// a table mentioned but not rendered is the common way this shows up
		if mentionsTable.MatchString(text) && !strings.Contains(text, "|") {
			return ReasonMissingTable
		}
		return ReasonTooShort
	}

	tables := extractTables(text)
	if len(tables) > 0 {
		for _, t := range tables {
			if tableShapeOK(t) {
				return ReasonNone
			}
		}
		return ReasonBrokenTable
	}

	pipeLines := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "|") {
			pipeLines++
		}
	}
	if pipeLines >= h.minPipeLines() {
		return ReasonStrayPipes
	}

	return ReasonNone
}

// Reason identifies which heuristic flagged a text.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonEmpty            Reason = "empty"
	ReasonFailureMarker    Reason = "failure_marker"
	ReasonReplacementChars Reason = "replacement_chars"
	ReasonLowDensity       Reason = "low_density"
	ReasonMissingTable     Reason = "missing_table"
	ReasonTooShort         Reason = "too_short"
	ReasonBrokenTable      Reason = "broken_table"
	ReasonStrayPipes       Reason = "stray_pipes"
)

// alnumDensity counts letters and numbers of every kind, so vulgar fractions
// and superscripts are not mistaken for noise.
func alnumDensity(text string, length int) float64 {
	if length == 0 {
		return 0
	}
	alnum := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			alnum++
		}
	}
	return float64(alnum) / float64(length)
}

// extractTables groups contiguous row/separator lines into blocks.
func extractTables(md string) [][]string {
	var tables [][]string
	var cur []string
	for _, line := range strings.Split(md, "\n") {
		if tableRow.MatchString(line) || tableSep.MatchString(line) {
			cur = append(cur, line)
			continue
		}
		if len(cur) > 0 {
			tables = append(tables, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		tables = append(tables, cur)
	}
	return tables
}

// tableShapeOK requires a consistent column count of at least 2 over at least
// 2 data rows. Separator rows are not data rows.
func tableShapeOK(lines []string) bool {
	cols := 0
	rows := 0
	for _, line := range lines {
		if tableSep.MatchString(line) {
			continue
		}
		if !tableRow.MatchString(line) {
			continue
		}
		trimmed := strings.Trim(strings.TrimSpace(line), "|")
		n := len(strings.Split(trimmed, "|"))
		if rows == 0 {
			cols = n
		} else if n != cols {
			return false
		}
		rows++
	}
	return cols >= 2 && rows >= 2
}

func (h *Heuristic) minLength() int {
	if h.MinLength > 0 {
		return h.MinLength
	}
	return DefaultMinLength
}

func (h *Heuristic) minDensity() float64 {
	if h.MinDensity > 0 {
		return h.MinDensity
	}
	return DefaultMinDensity
}

func (h *Heuristic) densityLengthCutoff() int {
	if h.DensityLengthCutoff > 0 {
		return h.DensityLengthCutoff
	}
	return DefaultDensityLengthCutoff
}

func (h *Heuristic) maxReplacementChars() int {
	if h.MaxReplacementChars > 0 {
		return h.MaxReplacementChars
	}
	return DefaultMaxReplacementChars
}

func (h *Heuristic) minPipeLines() int {
	if h.MinPipeLines > 0 {
		return h.MinPipeLines
	}
	return DefaultMinPipeLines
}
