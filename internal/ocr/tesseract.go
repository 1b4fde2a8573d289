//go:build !notesseract

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/spherical/mdload/internal/domain"
)

// Available reports whether this build links Tesseract.
const Available = true

// Tesseract converts units by OCR. Each Convert uses fresh clients, so one
// instance is safe for concurrent use.
type Tesseract struct {
	id            domain.ConverterIdentity
	opts          Options
	clientFactory func() *gosseract.Client
}

// NewTesseract creates an OCR converter for the named tier.
func NewTesseract(tierName, signature string, opts Options) (*Tesseract, error) {
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	return &Tesseract{
		id:            Identity(tierName, signature, opts),
		opts:          opts,
		clientFactory: gosseract.NewClient,
	}, nil
}

var _ domain.Converter = (*Tesseract)(nil)

func (t *Tesseract) Identity() domain.ConverterIdentity { return t.id }

// Convert recognizes every rendered page of the unit and joins the page texts
// with blank lines.
func (t *Tesseract) Convert(ctx context.Context, unit domain.Unit) (string, error) {
	if len(unit.Images) == 0 {
		return "", domain.ConverterFailure(fmt.Sprintf("%s has no rendered pages", unit.Label()), nil)
	}

	parts := make([]string, 0, len(unit.Images))
	for _, path := range unit.Images {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := t.recognize(path)
		if err != nil {
			return "", domain.ConverterFailure(fmt.Sprintf("ocr of %s", unit.Label()), err)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (t *Tesseract) recognize(path string) (string, error) {
	c := t.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(t.opts.Languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	for _, k := range sortedKeys(t.opts.Variables) {
		if err := c.SetVariable(gosseract.SettableVariable(k), t.opts.Variables[k]); err != nil {
			return "", fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	if err := c.SetImage(path); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
