// Package output names and writes converted markdown files.
package output

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// Ext is appended to every derived file name that lacks it.
	Ext = ".md"

	fallbackName = "document"
)

// DeriveFilename returns requested (trimmed) when given, else a slug of the
// source base name. The result always ends in .md.
func DeriveFilename(requested, sourcePath string) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		base := filepath.Base(sourcePath)
		name = Slugify(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if !strings.HasSuffix(strings.ToLower(name), Ext) {
		name += Ext
	}
	return name
}

// Slugify folds accents, lowercases and collapses every run of characters
// outside [a-z0-9] into a single dash.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return fallbackName
	}
	return slug
}
