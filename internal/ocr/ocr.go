// Package ocr implements a conversion tier that runs Tesseract over rendered
// page images. Output is plain text paragraphs; it carries no table structure.
package ocr

import (
	"sort"
	"strings"

	"github.com/spherical/mdload/internal/domain"
)

// Version is bumped whenever the assembled output changes shape.
const Version = "1"

// Options are the Tesseract settings a tier may pin.
type Options struct {
	Languages []string          // defaults to eng
	Variables map[string]string // passed to SetVariable, e.g. tessedit_pageseg_mode
}

// ParseOptions reads tier options: "lang" is a +-separated language list,
// every other key is a Tesseract variable.
func ParseOptions(raw map[string]string) Options {
	opts := Options{Languages: []string{"eng"}, Variables: map[string]string{}}
	for k, v := range raw {
		if k == "lang" {
			if langs := strings.FieldsFunc(v, func(r rune) bool { return r == '+' || r == ',' }); len(langs) > 0 {
				opts.Languages = langs
			}
			continue
		}
		opts.Variables[k] = v
	}
	return opts
}

// Identity is the converter identity of a tesseract tier, available without
// initializing the engine.
func Identity(tierName, signature string, opts Options) domain.ConverterIdentity {
	return domain.ConverterIdentity{
		TierName:         tierName,
		ModelID:          "tesseract:" + strings.Join(opts.Languages, "+"),
		ConverterVersion: Version,
		ConfigSignature:  signature,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
