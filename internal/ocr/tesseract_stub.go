//go:build notesseract

package ocr

import (
	"context"

	"github.com/spherical/mdload/internal/domain"
)

// Available reports whether this build links Tesseract.
const Available = false

// Tesseract is unavailable in builds tagged notesseract.
type Tesseract struct {
	id domain.ConverterIdentity
}

// NewTesseract always fails in this build.
func NewTesseract(tierName, signature string, opts Options) (*Tesseract, error) {
	return nil, domain.ConfigError("tesseract tier requested but binary was built with notesseract", nil)
}

func (t *Tesseract) Identity() domain.ConverterIdentity { return t.id }

func (t *Tesseract) Convert(context.Context, domain.Unit) (string, error) {
	return "", domain.ConverterFailure("tesseract support not compiled in", nil)
}
